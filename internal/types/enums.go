package types

// TaskType identifies the family of a scheduled task. Only certificate
// auto-generation is implemented today, but the column is free-form so new
// task families can be added without a migration.
type TaskType string

const (
	TaskCertificatesAutoGenerate TaskType = "certificates_auto_generate"
)

// TaskStatus represents the lifecycle state of a scheduled task.
//
// Tasks move strictly forward: pending -> processing -> completed|failed.
// The processing state is the atomic claim taken by a sweep; it prevents two
// overlapping sweeps from resolving the same task. Terminal tasks are never
// re-processed; retrying a failed task is an operator action that creates a
// fresh row.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// BookingStatus represents the attendance lifecycle of a booking.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusAttended  BookingStatus = "attended"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// ScanStatus is the recorded outcome of a QR attendance scan.
type ScanStatus string

const (
	ScanStatusSuccess  ScanStatus = "success"
	ScanStatusRejected ScanStatus = "rejected"
)

// EmailKind identifies the template used for an outbound email dispatch.
// These map to the notification side effects of the scan flow plus the
// certificate-delivery email sent after generation.
type EmailKind string

const (
	EmailFeedbackRequest    EmailKind = "feedback_request"
	EmailAttendanceThankYou EmailKind = "attendance_thank_you"
	EmailCertificateIssued  EmailKind = "certificate_issued"
)

// UserRole defines authorization levels within the platform.
type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleOrganizer UserRole = "organizer"
	RoleAttendee  UserRole = "attendee"
)

// Metric names published by the cert worker after each sweep.
const (
	MetricCertificatesGenerated = "CertificatesGenerated"
	MetricTasksSkipped          = "TasksSkipped"
	MetricTasksFailed           = "TasksFailed"
	MetricEmailsSent            = "EmailsSent"
	MetricTasksProcessed        = "TasksProcessed"
)
