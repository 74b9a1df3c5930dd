package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrNotSessionOwner   ErrCode = "NOT_SESSION_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation      ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload  ErrCode = "INVALID_PAYLOAD"
	ErrInvalidOption   ErrCode = "INVALID_OPTION"
	ErrUnknownQuestion ErrCode = "UNKNOWN_QUESTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound       ErrCode = "NOT_FOUND"
	ErrExamNotFound   ErrCode = "EXAM_NOT_FOUND"
	ErrExamUnparsable ErrCode = "EXAM_UNPARSABLE"

	// ─── Session ───────────────────────────────────────────────────────
	ErrExamNotAvailable       ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAlreadyAttempted       ErrCode = "ALREADY_ATTEMPTED"
	ErrStartRejected          ErrCode = "START_REJECTED"
	ErrSessionNotRunning      ErrCode = "SESSION_NOT_RUNNING"
	ErrSessionAlreadyStarted  ErrCode = "SESSION_ALREADY_STARTED"
	ErrSessionSubmitted       ErrCode = "SESSION_ALREADY_SUBMITTED"
	ErrSessionBusy            ErrCode = "SESSION_BUSY"
	ErrSessionClosed          ErrCode = "SESSION_CLOSED"
	ErrConfirmationRequired   ErrCode = "CONFIRMATION_REQUIRED"
	ErrSubmitFailed           ErrCode = "SUBMIT_FAILED"
	ErrExamServiceUnavailable ErrCode = "EXAM_SERVICE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrNotSessionOwner:
		return "Sesi ujian ini bukan milik Anda."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidOption:
		return "Jawaban harus salah satu dari A, B, C, atau D."
	case ErrUnknownQuestion:
		return "Soal tidak termasuk dalam ujian ini."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrExamUnparsable:
		return "Data ujian tidak lengkap atau rusak."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrAlreadyAttempted:
		return "Anda sudah mengerjakan ujian ini."
	case ErrStartRejected:
		return "Ujian tidak dapat dimulai."
	case ErrSessionNotRunning:
		return "Ujian belum dimulai."
	case ErrSessionAlreadyStarted:
		return "Ujian sudah dimulai."
	case ErrSessionSubmitted:
		return "Ujian sudah dikumpulkan."
	case ErrSessionBusy:
		return "Permintaan sebelumnya masih diproses."
	case ErrSessionClosed:
		return "Sesi ujian sudah ditutup."
	case ErrConfirmationRequired:
		return "Masih ada soal yang belum dijawab. Kumpulkan tetap?"
	case ErrSubmitFailed:
		return "Gagal mengumpulkan jawaban. Silakan coba lagi."
	case ErrExamServiceUnavailable:
		return "Layanan ujian sedang tidak dapat dihubungi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
