package errors

// Process exit codes, one per failure kind
const (
	ExitOK                     = 0
	ExitGeneric                = 1
	ExitCatalogUnavailable     = 2
	ExitDownloadFailed         = 3
	ExitExtractFailed          = 4
	ExitMissingPrerequisite    = 5
	ExitPatchFailed            = 6
	ExitConfigureFailed        = 7
	ExitCompileFailed          = 8
	ExitInstallFailed          = 9
	ExitInitramfsFailed        = 10
	ExitProtectedEntry         = 11
	ExitNotFound               = 12
	ExitUnsupportedEnvironment = 13
)

// Common error codes used across domains
const (
	CodeNotFound      Code = "not_found"
	CodeAlreadyExists Code = "already_exists"
	CodeCancelled     Code = "cancelled"
	CodeInternal      Code = "internal_error"
	CodeUnavailable   Code = "unavailable"
)

// ============================================================================
// Catalog Errors
// ============================================================================

var (
	// ErrCatalogUnavailable is returned when the release list cannot be fetched or is empty
	ErrCatalogUnavailable = New(DomainCatalog, CodeUnavailable, ExitCatalogUnavailable,
		"No kernel releases available")
)

// ============================================================================
// Pipeline Errors
// ============================================================================

var (
	// ErrDownloadFailed is returned when the tarball transfer fails; Detail holds the HTTP status
	ErrDownloadFailed = New(DomainDownload, "download_failed", ExitDownloadFailed,
		"Kernel download failed")

	// ErrExtractFailed is returned when the archive is corrupt or unreadable
	ErrExtractFailed = New(DomainExtract, "extract_failed", ExitExtractFailed,
		"Kernel extraction failed")

	// ErrMissingPrerequisite is returned when a stage's input artifact is absent
	ErrMissingPrerequisite = New(DomainBuild, "missing_prerequisite", ExitMissingPrerequisite,
		"Required artifact from a previous stage is missing")

	// ErrPatchFailed is returned when a patch does not apply cleanly
	ErrPatchFailed = New(DomainBuild, "patch_failed", ExitPatchFailed,
		"Patch did not apply cleanly")

	// ErrConfigureFailed is returned when the kernel configuration tool exits non-zero
	ErrConfigureFailed = New(DomainBuild, "configure_failed", ExitConfigureFailed,
		"Kernel configuration failed")

	// ErrCompileFailed is returned when make exits non-zero; Detail holds the exit code
	ErrCompileFailed = New(DomainBuild, "compile_failed", ExitCompileFailed,
		"Kernel compilation failed")

	// ErrInstallFailed is returned when modules or boot files cannot be installed
	ErrInstallFailed = New(DomainBuild, "install_failed", ExitInstallFailed,
		"Kernel installation failed")

	// ErrInitramfsFailed is returned when the initramfs image cannot be generated
	ErrInitramfsFailed = New(DomainBuild, "initramfs_failed", ExitInitramfsFailed,
		"Initramfs generation failed")
)

// ============================================================================
// Bootloader Errors
// ============================================================================

var (
	// ErrBootloaderUnsupported is returned when no supported bootloader is detected
	ErrBootloaderUnsupported = New(DomainBootloader, "unsupported", ExitOK,
		"No supported bootloader detected")

	// ErrBootloaderRefreshFailed is returned when the bootloader refresh command fails
	ErrBootloaderRefreshFailed = New(DomainBootloader, "refresh_failed", ExitGeneric,
		"Bootloader refresh failed")
)

// ============================================================================
// Registry Errors
// ============================================================================

var (
	// ErrProtectedEntry is returned when a rename or delete targets a reserved kernel entry
	ErrProtectedEntry = New(DomainRegistry, "protected_entry", ExitProtectedEntry,
		"Kernel entry is protected")

	// ErrNotFound is returned when an entry's backing boot image does not exist
	ErrNotFound = New(DomainRegistry, CodeNotFound, ExitNotFound,
		"Kernel entry not found")

	// ErrAlreadyExists is returned when a rename target is already taken
	ErrAlreadyExists = New(DomainRegistry, CodeAlreadyExists, ExitGeneric,
		"Kernel entry already exists")

	// ErrInvalidLabel is returned when a new entry label cannot name a boot file
	ErrInvalidLabel = New(DomainRegistry, "invalid_label", ExitGeneric,
		"Invalid kernel label")

	// ErrCancelled is returned when the operator declines a confirmation
	ErrCancelled = New(DomainRegistry, CodeCancelled, ExitOK,
		"Operation cancelled")
)

// ============================================================================
// History Errors
// ============================================================================

var (
	// ErrRunNotFound is returned when no recorded build run has the requested ID
	ErrRunNotFound = New(DomainHistory, CodeNotFound, ExitNotFound,
		"Build run not found")
)

// ============================================================================
// Environment Errors
// ============================================================================

var (
	// ErrUnsupportedEnvironment is returned for unknown distributions or non-interactive prompts
	ErrUnsupportedEnvironment = New(DomainEnvironment, "unsupported", ExitUnsupportedEnvironment,
		"Unsupported environment")

	// ErrPrerequisitesFailed is returned when the build dependencies cannot be installed
	ErrPrerequisitesFailed = New(DomainEnvironment, "prerequisites_failed", ExitGeneric,
		"Build prerequisites could not be installed")

	// ErrInternal is returned for unexpected internal failures
	ErrInternal = New(DomainInternal, CodeInternal, ExitGeneric,
		"Internal error")
)
