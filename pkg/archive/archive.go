// Package archive extracts source archives into a build tree and packs
// a finished stage into a gzip tarball. It is built on
// github.com/mholt/archiver/v4 rather than hand-rolled archive/tar +
// compress/gzip plumbing: archiver.Identify auto-detects the format
// from content/extension, which covers the "tar, optionally
// gzipped/xz/bzip2" decision made per source file.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/mholt/archiver/v4"
)

// isTarLike matches *.tar, *.tar.?? through *.tar.????, and *.tgz,
// the names extracted as archives rather than copied verbatim.
func isTarLike(name string) bool {
	if strings.HasSuffix(name, ".tgz") {
		return true
	}
	if !strings.Contains(name, ".tar") {
		return false
	}
	idx := strings.LastIndex(name, ".tar")
	rest := name[idx+len(".tar"):]
	if rest == "" {
		return true // plain .tar
	}
	if rest[0] != '.' {
		return false
	}
	ext := rest[1:]
	return len(ext) >= 2 && len(ext) <= 4
}

// Extract unpacks one source file: if it looks tar-like, extract with
// strip-components=1 into destDir; otherwise copy the file verbatim
// into destDir.
func Extract(ctx context.Context, srcFile, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	if !isTarLike(filepath.Base(srcFile)) {
		return copyVerbatim(srcFile, destDir)
	}

	f, err := os.Open(srcFile)
	if err != nil {
		return err
	}
	defer f.Close()

	format, stream, err := archiver.Identify(filepath.Base(srcFile), f)
	if err != nil {
		return fmt.Errorf("identify %s: %w", srcFile, err)
	}
	ex, ok := format.(archiver.Extractor)
	if !ok {
		return fmt.Errorf("%s: format does not support extraction", srcFile)
	}

	return ex.Extract(ctx, stream, nil, func(_ context.Context, f archiver.File) error {
		return extractStripOne(f, destDir)
	})
}

// ExtractAll extracts an archive into destDir with no component
// stripping, used for the staged package tarballs install consumes:
// their entries are already rooted at the stage layout, so stripping
// would discard the first real path component.
func ExtractAll(ctx context.Context, srcFile, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	f, err := os.Open(srcFile)
	if err != nil {
		return err
	}
	defer f.Close()

	format, stream, err := archiver.Identify(filepath.Base(srcFile), f)
	if err != nil {
		return fmt.Errorf("identify %s: %w", srcFile, err)
	}
	ex, ok := format.(archiver.Extractor)
	if !ok {
		return fmt.Errorf("%s: format does not support extraction", srcFile)
	}

	return ex.Extract(ctx, stream, nil, func(_ context.Context, f archiver.File) error {
		return writeEntry(f, destDir, f.NameInArchive)
	})
}

// extractStripOne writes a single archiver.File into destDir with the
// first path component stripped, per strip-components=1.
func extractStripOne(f archiver.File, destDir string) error {
	name := f.NameInArchive
	parts := strings.SplitN(filepath.ToSlash(name), "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		// Nothing left after stripping the top-level component (e.g.
		// the top-level directory entry itself); nothing to write.
		return nil
	}
	return writeEntry(f, destDir, parts[1])
}

// writeEntry materializes one archive entry at destDir/rel.
func writeEntry(f archiver.File, destDir, rel string) error {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	if rel == "" || rel == "." {
		return nil
	}
	target := filepath.Join(destDir, filepath.FromSlash(rel))

	if f.IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	if f.LinkTarget != "" {
		return os.Symlink(f.LinkTarget, target)
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func copyVerbatim(srcFile, destDir string) error {
	in, err := os.Open(srcFile)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	target := filepath.Join(destDir, filepath.Base(srcFile))
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// PackTarball packages stageDir's contents into a gzip tar at destTar.
func PackTarball(ctx context.Context, stageDir, destTar string) error {
	if err := os.MkdirAll(filepath.Dir(destTar), 0o755); err != nil {
		return err
	}

	// The trailing separator makes archiver add stageDir's contents at
	// the archive root instead of nesting them under stageDir's basename.
	files, err := archiver.FilesFromDisk(nil, map[string]string{stageDir + string(os.PathSeparator): ""})
	if err != nil {
		return err
	}

	out, err := os.Create(destTar)
	if err != nil {
		return err
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return err
	}
	defer gz.Close()

	format := archiver.Tar{}
	return format.Archive(ctx, gz, files)
}
