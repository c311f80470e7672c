package bootloader

import (
	"context"
	"fmt"
	"testing"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

func missingBinary(c runner.Command) (*runner.Result, error) {
	return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", c.Name)
}

func newTestDetector(f *runner.Fake, hasUpdateGrub bool) *Detector {
	d := NewDetector(f, Config{})
	d.lookPath = func(name string) (string, error) {
		if hasUpdateGrub && name == "update-grub" {
			return "/usr/sbin/update-grub", nil
		}
		return "", fmt.Errorf("not found")
	}
	return d
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		fake     func() *runner.Fake
		wantKind Kind
	}{
		{
			name: "systemd-boot",
			fake: func() *runner.Fake {
				return runner.NewFake().
					ExitWith("bootctl", 0, "System:\n     Firmware: UEFI 2.70\nCurrent Boot Loader:\n      Product: systemd-boot 255.4\n")
			},
			wantKind: KindSystemdBoot,
		},
		{
			name: "grub",
			fake: func() *runner.Fake {
				return runner.NewFake().
					On("bootctl", missingBinary).
					ExitWith("grub-install", 0, "grub-install (GRUB) 2.12-1ubuntu7\n")
			},
			wantKind: KindGrub,
		},
		{
			name: "grub booted on UEFI with systemd installed",
			fake: func() *runner.Fake {
				return runner.NewFake().
					ExitWith("bootctl", 1, "System:\n     Firmware: UEFI 2.70 (American Megatrends 5.17)\n  Secure Boot: disabled\n\n"+
						"Current Boot Loader:\n      Product: GRUB 2.12\n\n"+
						"Available Boot Loaders on ESP:\n          ESP: /boot/efi\n"+
						"systemd-boot not installed in ESP.\n").
					ExitWith("grub-install", 0, "grub-install (GRUB) 2.12\n")
			},
			wantKind: KindGrub,
		},
		{
			name: "bootctl present but not booted with systemd-boot",
			fake: func() *runner.Fake {
				return runner.NewFake().
					ExitWith("bootctl", 1, "Couldn't find EFI system partition.\n").
					ExitWith("grub-install", 0, "grub-install (GRUB) 2.12\n")
			},
			wantKind: KindGrub,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bl, err := newTestDetector(tt.fake(), false).Detect(context.Background())
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if bl.Kind() != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", bl.Kind(), tt.wantKind)
			}
		})
	}
}

func TestDetect_None(t *testing.T) {
	f := runner.NewFake().
		On("bootctl", missingBinary).
		On("grub-install", missingBinary).
		On("grub2-install", missingBinary)
	_, err := newTestDetector(f, false).Detect(context.Background())
	if !errors.Is(err, errors.ErrBootloaderUnsupported) {
		t.Fatalf("err = %v, want ErrBootloaderUnsupported", err)
	}
	if errors.GetExitCode(err) != errors.ExitOK {
		t.Errorf("an undetected boot loader should not change the exit status")
	}
}

func TestGrubRefresh(t *testing.T) {
	tests := []struct {
		name          string
		hasUpdateGrub bool
		want          string
	}{
		{"grub-mkconfig", false, "grub-mkconfig -o /boot/grub/grub.cfg"},
		{"update-grub", true, "update-grub"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := runner.NewFake().
				On("bootctl", missingBinary).
				ExitWith("grub-install", 0, "grub-install (GRUB) 2.12")
			bl, err := newTestDetector(f, tt.hasUpdateGrub).Detect(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if err := bl.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			calls := f.Calls()
			last := calls[len(calls)-1]
			if last.String() != tt.want || !last.Privileged {
				t.Errorf("refresh command = %q (privileged %v), want %q", last.String(), last.Privileged, tt.want)
			}
		})
	}
}

func TestRefreshFailure(t *testing.T) {
	f := runner.NewFake().ExitWith("bootctl", 1, "")
	bl := &SystemdBoot{runner: f, entriesDir: DefaultEntriesDir}
	err := bl.Refresh(context.Background())
	if !errors.Is(err, errors.ErrBootloaderRefreshFailed) {
		t.Fatalf("err = %v, want ErrBootloaderRefreshFailed", err)
	}
	if errors.GetDetail(err) != 1 {
		t.Errorf("detail = %d, want 1", errors.GetDetail(err))
	}
	if !f.Called("bootctl update --graceful") {
		t.Error("expected bootctl update")
	}
}

func TestBootedBySystemdBoot(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"systemd-boot product", "Current Boot Loader:\n      Product: systemd-boot 255.4\n", true},
		{"grub product", "Current Boot Loader:\n      Product: GRUB 2.12\nsystemd-boot not installed in ESP.\n", false},
		{"product outside current section", "Default Boot Loader Entry:\n      Product: systemd-boot 255\n", false},
		{"no current section", "systemd-boot not installed in ESP.\n", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bootedBySystemdBoot(tt.status); got != tt.want {
				t.Errorf("bootedBySystemdBoot() = %v, want %v", got, tt.want)
			}
		})
	}
}
