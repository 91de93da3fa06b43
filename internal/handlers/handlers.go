package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/saddle-fit/internal/auth"
	"github.com/example/saddle-fit/internal/logging"
	"github.com/example/saddle-fit/internal/repository"
	"github.com/example/saddle-fit/internal/usecase"
)

// MaxUploadSize bounds the accepted image file size.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for form boundaries and the height field.
const multipartOverhead = 64 << 10

// LivenessMessage is the body served on GET /.
const LivenessMessage = "saddle-fit API is running"

type analysisResponse struct {
	RiderHeightCM           float64 `json:"rider_height_cm"`
	CurrentSeatHeightCM     float64 `json:"current_seat_height_cm"`
	RecommendedSeatHeightCM float64 `json:"recommended_seat_height_cm"`
	DifferenceCM            float64 `json:"difference_cm"`
	Recommendation          string  `json:"recommendation"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, verifier *auth.Verifier, logger *zap.Logger) {
	router.Use(assignRequestID)

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, LivenessMessage)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/analyze", verifier.Optional(), func(c *gin.Context) {
		requestID := c.GetString(requestIDKey)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

		var image []byte
		file, err := c.FormFile("image")
		switch {
		case isTooLarge(err):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds maximum upload size"})
			return
		case errors.Is(err, http.ErrMissingFile), isNotMultipart(err):
			// left nil so the use case reports the missing field
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		default:
			if file.Size > MaxUploadSize {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds maximum upload size"})
				return
			}
			src, err := file.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
				return
			}
			defer src.Close()

			image, err = io.ReadAll(src)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
				return
			}
		}

		userID, _ := auth.GetUserID(c.Request.Context())
		result, err := uc.Analyze(c.Request.Context(), usecase.AnalysisInput{
			RequestID:   requestID,
			UserID:      userID,
			Image:       image,
			RiderHeight: c.PostForm("rider_height_cm"),
		})
		if err != nil {
			writeAnalysisError(c, logger, requestID, err)
			return
		}

		rec := result.Recommendation
		c.JSON(http.StatusOK, analysisResponse{
			RiderHeightCM:           rec.RiderHeightCM,
			CurrentSeatHeightCM:     rec.CurrentSeatHeightCM,
			RecommendedSeatHeightCM: rec.RecommendedSeatHeightCM,
			DifferenceCM:            rec.DifferenceCM,
			Recommendation:          rec.Text,
		})
	})

	history := router.Group("/", verifier.Required())

	history.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}
		userID, _ := auth.GetUserID(c.Request.Context())

		log, err := uc.GetResult(c.Request.Context(), userID, requestID)
		switch {
		case errors.Is(err, usecase.ErrHistoryDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		case err != nil:
			logging.WithOperation(logger, "handlers.get_result", requestID).Error("history lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":                 log.RequestID,
			"rider_height_cm":            log.RiderHeightCM,
			"current_seat_height_cm":     log.CurrentSeatHeightCM,
			"recommended_seat_height_cm": log.RecommendedSeatHeightCM,
			"difference_cm":              log.DifferenceCM,
			"recommendation":             log.Recommendation,
			"created_at":                 log.CreatedAt,
		})
	})

	history.GET("/metrics/summary", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		summary, err := uc.GetMetricsSummary(c.Request.Context(), userID)
		switch {
		case errors.Is(err, usecase.ErrHistoryDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		case err != nil:
			logging.WithOperation(logger, "handlers.metrics_summary", "").Error("metrics aggregation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

const requestIDKey = "request_id"

func assignRequestID(c *gin.Context) {
	id := uuid.NewString()
	c.Set(requestIDKey, id)
	c.Header(logging.RequestIDHeader, id)
	c.Next()
}

func writeAnalysisError(c *gin.Context, logger *zap.Logger, requestID string, err error) {
	if target, ok := usecase.ClientError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": target.Error()})
		return
	}
	logging.WithOperation(logger, "handlers.analyze", requestID).Error("analysis failed", zap.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected error: " + err.Error()})
}

// isNotMultipart reports a body that cannot carry a file part at all.
func isNotMultipart(err error) bool {
	return errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary)
}

func isTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// Recovery converts panics into the JSON error shape used by every route.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic while handling request", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unexpected error"})
	})
}
