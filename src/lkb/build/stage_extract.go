package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
)

// ExtractStage unpacks the tarball into linux-<v>/ under the base directory
type ExtractStage struct {
	artifacts ArtifactStore
}

// NewExtractStage creates a new extract stage
func NewExtractStage(artifacts ArtifactStore) *ExtractStage {
	return &ExtractStage{artifacts: artifacts}
}

// Name returns the stage name
func (s *ExtractStage) Name() StageName {
	return StageExtract
}

// Validate checks the tarball was downloaded
func (s *ExtractStage) Validate(ctx context.Context, bc *BuildContext) error {
	if !s.artifacts.TarballComplete(bc.Version) {
		return missing(StageExtract, "kernel tarball", s.artifacts.TarballPath(bc.Version))
	}
	return nil
}

// Execute extracts into a staging directory renamed into place at the end,
// so the source directory only exists once every member is on disk
func (s *ExtractStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	srcDir := s.artifacts.SourceDir(bc.Version)
	if s.artifacts.SourceComplete(bc.Version) {
		bc.WorkingDirectory = srcDir
		progress(100, fmt.Sprintf("%s already extracted", filepath.Base(srcDir)))
		return StatusSkipped, nil
	}

	tarball := s.artifacts.TarballPath(bc.Version)
	staging := srcDir + StagingSuffix
	if err := os.RemoveAll(staging); err != nil {
		return StatusFailed, errors.ErrExtractFailed.WithCause(err)
	}

	progress(0, "Counting archive members")
	total, err := countMembers(ctx, tarball)
	if err != nil {
		return StatusFailed, errors.ErrExtractFailed.WithCause(err)
	}

	log.Info("Extracting kernel source", "tarball", tarball, "members", total)
	if err := extractTarXz(ctx, tarball, staging, func(done int) {
		if total > 0 {
			progress(done*100/total, fmt.Sprintf("Extracted %d/%d files", done, total))
		}
	}); err != nil {
		_ = os.RemoveAll(staging)
		return StatusFailed, errors.ErrExtractFailed.WithCause(err)
	}

	// A stale incomplete tree (no Makefile) is replaced
	if err := os.RemoveAll(srcDir); err != nil {
		return StatusFailed, errors.ErrExtractFailed.WithCause(err)
	}
	if err := os.Rename(staging, srcDir); err != nil {
		return StatusFailed, errors.ErrExtractFailed.WithCause(err)
	}

	bc.WorkingDirectory = srcDir
	return StatusSucceeded, nil
}

// openTarXz opens an xz-compressed tar stream
func openTarXz(path string) (*tar.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	xr, err := xz.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("not an xz archive: %w", err)
	}
	return tar.NewReader(xr), f, nil
}

// countMembers reads the archive once to learn how many members it holds
func countMembers(ctx context.Context, path string) (int, error) {
	tr, closer, err := openTarXz(path)
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("corrupt archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeXGlobalHeader {
			n++
		}
	}
}

// extractTarXz unpacks path into dest, dropping the archive's top-level directory
func extractTarXz(ctx context.Context, path, dest string, onMember func(done int)) error {
	tr, closer, err := openTarXz(path)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		if err := extractMember(tr, hdr, dest); err != nil {
			return err
		}
		done++
		onMember(done)
	}
}

func extractMember(tr *tar.Reader, hdr *tar.Header, dest string) error {
	rel := stripTopLevel(hdr.Name)
	if rel == "" {
		return nil
	}
	target := filepath.Join(dest, rel)
	if !paths.Within(dest, target) {
		return fmt.Errorf("archive member %q escapes the extraction directory", hdr.Name)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0755)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return fmt.Errorf("corrupt archive member %s: %w", hdr.Name, err)
		}
		return f.Close()

	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) || !paths.Within(dest, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
			return fmt.Errorf("symlink %q points outside the extraction directory", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)

	case tar.TypeLink:
		linkTarget := filepath.Join(dest, stripTopLevel(hdr.Linkname))
		if !paths.Within(dest, linkTarget) {
			return fmt.Errorf("hard link %q points outside the extraction directory", hdr.Name)
		}
		return os.Link(linkTarget, target)

	default:
		log.Debug("Skipping unsupported archive member", "name", hdr.Name, "type", hdr.Typeflag)
		return nil
	}
}

// stripTopLevel removes the leading linux-<v>/ component of a member name
func stripTopLevel(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	_, rest, found := strings.Cut(name, "/")
	if !found {
		return ""
	}
	return rest
}
