package service

import (
	"errors"

	"gorm.io/gorm"
)

// Kind classifies service errors for callers; every kind maps to one HTTP status.
type Kind string

const (
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindTransient       Kind = "transient"
	KindConflict        Kind = "conflict"
	KindUnauthenticated Kind = "unauthenticated"
)

// Error is a classified error with a user-facing message in both locales.
type Error struct {
	Kind      Kind
	Message   string
	MessageAr string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels (ErrForbidden, ErrNotFound, ...) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Localized returns the message for the given locale.
func (e *Error) Localized(arabic bool) string {
	if arabic && e.MessageAr != "" {
		return e.MessageAr
	}
	return e.Message
}

func newError(kind Kind, en, ar string) *Error {
	return &Error{Kind: kind, Message: en, MessageAr: ar}
}

// Kind sentinels for errors.Is.
var (
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrTransient       = &Error{Kind: KindTransient}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
)

var (
	ErrNotMember          = newError(KindForbidden, "You are not a member of this channel", "أنت لست عضواً في هذه القناة")
	ErrNotAuthor          = newError(KindForbidden, "Only the author can change this message", "يمكن لكاتب الرسالة فقط تعديلها")
	ErrChannelArchived    = newError(KindForbidden, "This channel is archived", "هذه القناة مؤرشفة")
	ErrPrivateChannel     = newError(KindForbidden, "This channel is invite-only", "هذه القناة خاصة وتتطلب دعوة")
	ErrDepartmentOnly     = newError(KindForbidden, "This channel is limited to its department", "هذه القناة مخصصة لأعضاء القسم فقط")
	ErrNotModerator       = newError(KindForbidden, "You do not have permission to manage this channel", "ليس لديك صلاحية لإدارة هذه القناة")
	ErrNotOwner           = newError(KindForbidden, "Only the channel owner can do this", "يمكن لمالك القناة فقط القيام بذلك")
	ErrAccessDenied       = newError(KindForbidden, "You do not have access to this resource", "ليس لديك صلاحية الوصول إلى هذا المورد")
	ErrNotRecipient       = newError(KindForbidden, "Only the recipient can mark this message as read", "يمكن للمستلم فقط تحديد الرسالة كمقروءة")
	ErrAccountDeactivated = newError(KindForbidden, "This account is deactivated", "تم تعطيل هذا الحساب")

	ErrChannelNotFound      = newError(KindNotFound, "Channel not found", "القناة غير موجودة")
	ErrMessageNotFound      = newError(KindNotFound, "Message not found", "الرسالة غير موجودة")
	ErrUserNotFound         = newError(KindNotFound, "User not found", "المستخدم غير موجود")
	ErrNotificationNotFound = newError(KindNotFound, "Notification not found", "الإشعار غير موجود")
	ErrFileNotFound         = newError(KindNotFound, "File not found", "الملف غير موجود")

	ErrSelfMessage        = newError(KindConflict, "You cannot send a direct message to yourself", "لا يمكنك إرسال رسالة مباشرة إلى نفسك")
	ErrAlreadyMember      = newError(KindConflict, "User is already a member of this channel", "المستخدم عضو بالفعل في هذه القناة")
	ErrLastOwner          = newError(KindConflict, "A channel must keep at least one owner", "يجب أن تحتفظ القناة بمالك واحد على الأقل")
	ErrEmailAlreadyExists = newError(KindConflict, "Email already exists", "البريد الإلكتروني مستخدم بالفعل")

	ErrInvalidCredentials = newError(KindUnauthenticated, "Invalid email or password", "البريد الإلكتروني أو كلمة المرور غير صحيحة")
)

// RetryPrompt is shown for transient failures and anything unclassified.
var RetryPrompt = newError(KindTransient, "Something went wrong, please try again", "حدث خطأ ما، يرجى المحاولة مرة أخرى")

func validationError(en, ar string) *Error {
	return newError(KindValidation, en, ar)
}

// storeError classifies a repository failure. Record-not-found never reaches
// here because repositories return (nil, nil) for missing rows.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: KindNotFound, Message: "Not found", MessageAr: "غير موجود", Err: err}
	}
	return &Error{Kind: KindTransient, Message: RetryPrompt.Message, MessageAr: RetryPrompt.MessageAr, Err: err}
}

// KindOf returns the kind of err, KindTransient for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// AsError returns err as a classified error, substituting the retry prompt for unclassified ones.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return RetryPrompt
}
