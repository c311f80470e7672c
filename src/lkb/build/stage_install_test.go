package build

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/distro"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

func TestInstallStage_MissingImage(t *testing.T) {
	bc, artifacts := compileEnv(t)
	f := runner.NewFake()
	err := NewInstallStage(f, artifacts).Validate(context.Background(), bc)
	if !errors.Is(err, errors.ErrInstallFailed) {
		t.Fatalf("err = %v, want ErrInstallFailed", err)
	}
	if errors.GetExitCode(err) != errors.ExitInstallFailed {
		t.Errorf("exit code = %d", errors.GetExitCode(err))
	}
	if len(f.Calls()) != 0 {
		t.Error("nothing may run when the image is missing")
	}
}

func TestInstallStage_ModulesInstallFails(t *testing.T) {
	bc, artifacts := compileEnv(t)
	bc.BootImage = filepath.Join(bc.WorkingDirectory, "arch/x86/boot/bzImage")
	writeFile(t, bc.BootImage, "kernel")
	f := runner.NewFake().ExitWith("make", 2, "")

	status, err := NewInstallStage(f, artifacts).Execute(context.Background(), bc, func(int, string) {})
	if status != StatusFailed || !errors.Is(err, errors.ErrInstallFailed) {
		t.Fatalf("Execute() = %s, %v", status, err)
	}
	if f.Called("install") {
		t.Error("boot files copied after modules_install failed")
	}
	if !f.Calls()[0].Privileged {
		t.Error("modules_install writes to /lib/modules and needs privileges")
	}
}

func TestInitramfsStage(t *testing.T) {
	bc, _ := compileEnv(t)
	stage := NewInitramfsStage(fakeToolchain(t, 0), distro.NewDracut())

	if err := stage.Validate(context.Background(), bc); !errors.Is(err, errors.ErrMissingPrerequisite) {
		t.Fatalf("Validate() without an installed kernel = %v", err)
	}

	writeFile(t, InstalledKernelPath(bc), "kernel")
	if err := stage.Validate(context.Background(), bc); err != nil {
		t.Fatal(err)
	}
	status, err := stage.Execute(context.Background(), bc, func(int, string) {})
	if err != nil || status != StatusSucceeded {
		t.Fatalf("Execute() = %s, %v", status, err)
	}
	if want := filepath.Join(bc.BootDirectory, "initramfs-6.10.0.img"); !paths.IsFile(want) {
		t.Errorf("%s not created", want)
	}
}

func TestInitramfsStage_Failure(t *testing.T) {
	bc, _ := compileEnv(t)
	writeFile(t, InstalledKernelPath(bc), "kernel")
	stage := NewInitramfsStage(runner.NewFake().ExitWith("dracut", 1, ""), distro.NewDracut())

	_, err := stage.Execute(context.Background(), bc, func(int, string) {})
	if !errors.Is(err, errors.ErrInitramfsFailed) || errors.GetExitCode(err) != errors.ExitInitramfsFailed {
		t.Fatalf("err = %v", err)
	}
}
