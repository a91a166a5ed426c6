package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrSessionNotStarted    ErrCode = "SESSION_NOT_STARTED"
	ErrSessionClosed        ErrCode = "SESSION_CLOSED"
	ErrNoQuestions          ErrCode = "NO_QUESTIONS"
	ErrUnknownQuestion      ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidOption        ErrCode = "INVALID_OPTION"
	ErrInvalidIndex         ErrCode = "INVALID_QUESTION_INDEX"
	ErrSubmissionPending    ErrCode = "SUBMISSION_PENDING"
	ErrSubmitFailed         ErrCode = "SUBMIT_FAILED"
	ErrSubmitUnconfirmed    ErrCode = "SUBMIT_NOT_CONFIRMED"
	ErrQuestionsUnavailable ErrCode = "QUESTIONS_UNAVAILABLE"

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
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrProctorAccessOnly:
		return "Sumber daya ini terbatas untuk pengawas."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sesi ujian tidak ditemukan."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrSessionNotStarted:
		return "Sesi ujian belum dimulai."
	case ErrSessionClosed:
		return "Sesi ujian sudah berakhir."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrUnknownQuestion:
		return "Pertanyaan tidak ditemukan dalam sesi ini."
	case ErrInvalidOption:
		return "Pilihan jawaban tidak valid."
	case ErrInvalidIndex:
		return "Nomor soal tidak valid."
	case ErrSubmissionPending:
		return "Jawaban sedang dikumpulkan. Mohon tunggu."
	case ErrSubmitFailed:
		return "Gagal mengumpulkan jawaban. Silakan coba lagi."
	case ErrSubmitUnconfirmed:
		return "Pengumpulan harus dikonfirmasi terlebih dahulu."
	case ErrQuestionsUnavailable:
		return "Soal ujian tidak dapat dimuat. Silakan coba lagi."

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
