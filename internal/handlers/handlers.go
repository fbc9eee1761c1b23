package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/face-gate/internal/imagedata"
	"github.com/example/face-gate/internal/selfiebox"
	"github.com/example/face-gate/internal/usecase"
	"github.com/example/face-gate/internal/web"
)

// MaxUploadSize bounds selfie uploads on the verify endpoint (5MB).
const MaxUploadSize = 5 << 20

type receivePhotoRequest struct {
	SelfieDataURI string `json:"selfieDataUri"`
	CCTVDataURI   string `json:"cctvDataUri"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The intake and
// poll endpoints are public with open CORS (they serve the remote kiosk
// flow); history and metrics sit behind the auth middleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, box *selfiebox.Box, authMiddleware gin.HandlerFunc, pollInterval time.Duration) {
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML())
	})
	router.GET("/app.js", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/javascript; charset=utf-8", web.AppJS())
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/ui-config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pollIntervalMs": pollInterval.Milliseconds()})
	})

	router.POST("/api/receive-photo", func(c *gin.Context) {
		openCORS(c, "POST, OPTIONS")
		receivePhoto(c, box)
	})
	router.OPTIONS("/api/receive-photo", func(c *gin.Context) {
		openCORS(c, "POST, OPTIONS")
		c.Status(http.StatusNoContent)
	})

	router.GET("/api/get-latest-selfie", func(c *gin.Context) {
		openCORS(c, "GET, OPTIONS")
		latestSelfie(c, box)
	})
	router.OPTIONS("/api/get-latest-selfie", func(c *gin.Context) {
		openCORS(c, "GET, OPTIONS")
		c.Status(http.StatusNoContent)
	})

	router.POST("/api/verify", func(c *gin.Context) {
		verify(c, uc)
	})

	authorized := router.Group("/api", authMiddleware)
	authorized.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		outcome, err := uc.GetOutcome(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requestId": requestID, "outcome": outcome})
	})
	authorized.GET("/result/:id/duplicates", func(c *gin.Context) {
		report, err := uc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"requestId":  report.Request.RequestID,
			"duplicates": report.Duplicates,
		})
	})
	authorized.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// receivePhoto validates the intake body and overwrites the pending-selfie
// slot. Validation failures never touch the slot.
func receivePhoto(c *gin.Context, box *selfiebox.Box) {
	var req receivePhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "please send valid JSON"})
		return
	}

	payload, err := imagedata.Parse(req.SelfieDataURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "selfieDataUri must be a base64-encoded image data URI",
		})
		return
	}

	// The optional reference frame is validated for shape but not stored;
	// the verify endpoint captures its own frame.
	if req.CCTVDataURI != "" {
		if _, err := imagedata.Parse(req.CCTVDataURI); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": "cctvDataUri must be a base64-encoded image data URI",
			})
			return
		}
	}

	version := box.Put(payload)
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Selfie received.",
		"version": version,
	})
}

// latestSelfie is the consuming poll: the slot is cleared by the read, so a
// second poll without a new intake returns null.
func latestSelfie(c *gin.Context, box *selfiebox.Box) {
	payload, ok := box.Take()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"selfieDataUri": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selfieDataUri": payload.URI()})
}

// verify accepts the multipart form submission from the UI: an uploaded
// selfie file plus the captured camera frame as a data URI field.
func verify(c *gin.Context, uc *usecase.VerificationUseCase) {
	file, err := c.FormFile("selfie")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "selfie file is required"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": "error", "message": "selfie exceeds the 5MB limit"})
		return
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"status": "error", "message": "selfie must be an image"})
		return
	}

	frameDataURI := c.PostForm("frameDataUri")
	if frameDataURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "frameDataUri is required"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unable to open selfie"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to read selfie"})
		return
	}

	selfieURI := imagedata.New(contentType, data).URI()
	requestID, outcome := uc.VerifyFaces(c.Request.Context(), selfieURI, frameDataURI)

	// Outcome fields flatten into the response; summary and enhancedImageUri
	// appear only on failed outcomes.
	c.JSON(http.StatusOK, verifyResponse{RequestID: requestID, Outcome: outcome})
}

type verifyResponse struct {
	RequestID string `json:"requestId"`
	*usecase.Outcome
}

// openCORS emits the wide-open CORS headers the kiosk endpoints promise, with
// allowed methods restricted per endpoint.
func openCORS(c *gin.Context, methods string) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", methods)
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Header("Access-Control-Max-Age", "86400")
}
