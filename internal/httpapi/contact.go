// Package httpapi implements the contact endpoint: authoritative validation,
// best-effort persistence, and best-effort notification for submissions.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/viraloab/viraloab/internal/model"
	"github.com/viraloab/viraloab/internal/storage"
)

const (
	errorMessageMissingRequiredFields = "Missing required fields"
	errorMessageInvalidEmailFormat    = "Invalid email format"
	errorMessageInternalServerError   = "Internal Server Error"
	successMessageFormSubmitted       = "Form submitted successfully"
	healthStatusOK                    = "ok"

	logEventSaveContactFailed          = "save_contact_failed"
	logEventAdminNotificationFailed    = "admin_notification_failed"
	logEventConfirmationDeliveryFailed = "confirmation_delivery_failed"
	logFieldContactID                  = "contact_id"
)

// ContactHandlers serves the contact submission and health endpoints.
type ContactHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	notifier *ContactNotifier
}

// NewContactHandlers constructs handlers with the given dependencies. A nil
// database disables persistence; submissions are still accepted.
func NewContactHandlers(database *gorm.DB, logger *zap.Logger, notifier *ContactNotifier) *ContactHandlers {
	if notifier == nil {
		notifier = NewContactNotifier(nil, "")
	}
	return &ContactHandlers{
		database: database,
		logger:   logger,
		notifier: notifier,
	}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
}

// CreateContact handles POST /api/contact. Validation is the only hard gate:
// persistence and notification failures are logged and never surface to the
// caller, so a broken store or mail relay cannot fail a submission.
func (handlers *ContactHandlers) CreateContact(ginContext *gin.Context) {
	var payload contactRequest
	if bindErr := ginContext.BindJSON(&payload); bindErr != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"success": false, "error": errorMessageMissingRequiredFields})
		return
	}

	submission := model.Submission{
		Name:    payload.Name,
		Email:   payload.Email,
		Message: payload.Message,
		Company: payload.Company,
		Phone:   payload.Phone,
	}.Normalized()

	if !submission.HasRequiredFields() {
		ginContext.JSON(http.StatusBadRequest, gin.H{"success": false, "error": errorMessageMissingRequiredFields})
		return
	}

	if !model.IsValidEmailAddress(submission.Email) {
		ginContext.JSON(http.StatusBadRequest, gin.H{"success": false, "error": errorMessageInvalidEmailFormat})
		return
	}

	message := model.NewContactMessage(storage.NewID(), submission, ginContext.ClientIP())

	if handlers.database != nil {
		if saveErr := handlers.database.Create(&message).Error; saveErr != nil {
			handlers.logger.Warn(logEventSaveContactFailed, zap.Error(saveErr), zap.String(logFieldContactID, message.ID))
		}
	}

	requestContext := ginContext.Request.Context()
	if notifyErr := handlers.notifier.NotifyAdmin(requestContext, message); notifyErr != nil {
		handlers.logger.Warn(logEventAdminNotificationFailed, zap.Error(notifyErr), zap.String(logFieldContactID, message.ID))
	}
	if confirmErr := handlers.notifier.SendConfirmation(requestContext, message); confirmErr != nil {
		handlers.logger.Warn(logEventConfirmationDeliveryFailed, zap.Error(confirmErr), zap.String(logFieldContactID, message.ID))
	}

	ginContext.JSON(http.StatusOK, gin.H{"success": true, "message": successMessageFormSubmitted})
}

// Health handles GET /api/health. It has no side effects and answers
// unconditionally while the process is up.
func (handlers *ContactHandlers) Health(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, gin.H{"status": healthStatusOK})
}

// RecoveryHandler turns an unexpected panic into the endpoint's generic
// internal error response without leaking detail.
func RecoveryHandler(logger *zap.Logger) gin.RecoveryFunc {
	return func(ginContext *gin.Context, recovered any) {
		logger.Error("panic_recovered", zap.Any("panic", recovered))
		ginContext.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": errorMessageInternalServerError})
	}
}
