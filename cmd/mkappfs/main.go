// mkappfs builds an AppFs partition image on the host filesystem.
//
// Usage:
//
//	mkappfs [-v] -o appfs.img <size-in-bytes> <file1[:renamed1]> [...]
//
// Each input file is written into the image under its own base name,
// or under renamedN if the ":renamed" suffix is given. Trailing
// all-0xFF 1 KiB blocks are trimmed from the produced image.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/pocketsprite/appfs"
	"github.com/pocketsprite/appfs/internal/appfsio"
	"github.com/pocketsprite/appfs/internal/hostfs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mkappfs: %v\n", err)
		os.Exit(1)
	}
}

type fileArg struct {
	hostPath  string
	appfsName string
}

func run(args []string) error {
	flags := pflag.NewFlagSet("mkappfs", pflag.ContinueOnError)

	out := flags.StringP("out", "o", "appfs.img", "output image path")
	verbose := flags.BoolP("verbose", "v", false, "print per-file allocation details")

	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: mkappfs [-v] -o appfs.img <size-in-bytes> <file1[:renamed1]> [...]")
	}

	size, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", rest[0], err)
	}

	files, err := parseFileArgs(rest[1:])
	if err != nil {
		return err
	}

	return build(size, files, *out, *verbose)
}

func parseFileArgs(args []string) ([]fileArg, error) {
	files := make([]fileArg, 0, len(args))

	for _, a := range args {
		hostPath, appfsName, _ := strings.Cut(a, ":")
		if appfsName == "" {
			appfsName = filepath.Base(hostPath)
		}

		files = append(files, fileArg{hostPath: hostPath, appfsName: appfsName})
	}

	return files, nil
}

func build(size int64, files []fileArg, outPath string, verbose bool) error {
	if size%appfs.PageSize != 0 {
		return fmt.Errorf("size %d is not a multiple of the page size (%d)", size, appfs.PageSize)
	}

	dataPages := size/appfs.PageSize - 1
	if dataPages < 1 {
		return fmt.Errorf("size %d is too small to hold any data pages", size)
	}

	contents := make([][]byte, len(files))
	neededPages := int64(0)

	for i, fa := range files {
		data, err := os.ReadFile(fa.hostPath) //nolint:gosec // CLI argument, trusted local tool
		if err != nil {
			return fmt.Errorf("read %q: %w", fa.hostPath, err)
		}

		contents[i] = data
		neededPages += (int64(len(data)) + appfs.PageSize - 1) / appfs.PageSize
	}

	if neededPages > dataPages {
		return fmt.Errorf("input files need %d pages but the partition only has %d", neededPages, dataPages)
	}

	lock, err := hostfs.NewReal().Lock(outPath)
	if err != nil {
		return fmt.Errorf("locking %q: %w", outPath, err)
	}
	defer lock.Close()

	flash := appfsio.NewMem(size)

	fs, err := appfs.Init(flash)
	if err != nil && !errors.Is(err, appfs.ErrCorrupt) {
		return fmt.Errorf("init partition: %w", err)
	}

	for i, fa := range files {
		handle, err := fs.Create(fa.appfsName, uint32(len(contents[i])))
		if err != nil {
			return fmt.Errorf("create %q: %w", fa.appfsName, err)
		}

		if len(contents[i]) > 0 {
			if err := fs.Write(handle, 0, contents[i]); err != nil {
				return fmt.Errorf("write %q: %w", fa.appfsName, err)
			}
		}

		if verbose {
			fmt.Fprintf(os.Stderr, "mkappfs: %s -> %q handle=%d size=%d\n", fa.hostPath, fa.appfsName, handle, len(contents[i]))
		}
	}

	trimmed := trimTrailingFF(flash.Bytes())

	if err := hostfs.NewReal().WriteFileAtomic(outPath, trimmed, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", outPath, err)
	}

	fmt.Fprintf(os.Stderr, "mkappfs: wrote %s (%d bytes, %d free)\n", outPath, len(trimmed), fs.FreeSpace())

	return nil
}

// trimTrailingFF drops trailing whole 1 KiB blocks that are entirely
// 0xFF, matching the original image builder's block-aligned trimming.
func trimTrailingFF(img []byte) []byte {
	const block = 1024

	end := len(img)

	for end >= block {
		start := end - block

		allFF := true

		for _, b := range img[start:end] {
			if b != 0xFF {
				allFF = false

				break
			}
		}

		if !allFF {
			break
		}

		end = start
	}

	return img[:end]
}

