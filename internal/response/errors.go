package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Ownership ─────────────────────────────────────────────────────
	ErrSubmissionNotOwned ErrCode = "SUBMISSION_NOT_OWNED"

	// ─── State conflict ────────────────────────────────────────────────
	ErrSubmissionCompleted    ErrCode = "SUBMISSION_ALREADY_COMPLETED"
	ErrSubmissionNotFound     ErrCode = "SUBMISSION_NOT_FOUND"
	ErrSubmissionTestMismatch ErrCode = "SUBMISSION_TEST_MISMATCH"
	ErrSubmissionInProgress   ErrCode = "SUBMISSION_NOT_COMPLETED"

	// ─── Data integrity ────────────────────────────────────────────────
	ErrTestNotFound       ErrCode = "TEST_NOT_FOUND"
	ErrTestHasNoQuestions ErrCode = "TEST_HAS_NO_QUESTIONS"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	case ErrSubmissionNotOwned:
		return "Pengerjaan ini milik pengguna lain."

	case ErrSubmissionCompleted:
		return "Pengerjaan ini sudah dikumpulkan."
	case ErrSubmissionNotFound:
		return "Pengerjaan tidak ditemukan."
	case ErrSubmissionTestMismatch:
		return "Pengerjaan ini bukan untuk tes tersebut."
	case ErrSubmissionInProgress:
		return "Pengerjaan belum dikumpulkan."

	case ErrTestNotFound:
		return "Tes tidak ditemukan."
	case ErrTestHasNoQuestions:
		return "Tes belum memiliki soal."

	case ErrValidation:
		return "Data yang dikirim tidak valid."
	case ErrInvalidID:
		return "Format ID tidak valid."

	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	case ErrInternal:
		return "Terjadi kesalahan pada server."

	default:
		return "Terjadi kesalahan yang tidak diketahui."
	}
}
