// appfsctl is an interactive CLI for inspecting and mutating an AppFs
// partition image.
//
// Usage:
//
//	appfsctl <image-file>              Open an existing image
//	appfsctl new [opts] <image-file>   Create a new, empty image
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/pocketsprite/appfs"
	"github.com/pocketsprite/appfs/internal/appfsio"
	"github.com/pocketsprite/appfs/internal/config"
	"github.com/pocketsprite/appfs/internal/hostfs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()

		return errors.New("missing command or image file path")
	}

	if os.Args[1] == "new" {
		return runNew(os.Args[2:])
	}

	return runOpen(os.Args[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  appfsctl <image-file>              Open an existing image\n")
	fmt.Fprintf(os.Stderr, "  appfsctl new [opts] <image-file>   Create a new, empty image\n")
}

func runNew(args []string) error {
	cfg, err := config.Load(config.LoadInput{Env: envMap()})
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("new", pflag.ExitOnError)

	size := flags.Int64P("size", "s", cfg.DefaultPartitionSize, "partition size in bytes")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: appfsctl new [options] <image-file>\n\nOptions:\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() < 1 {
		flags.Usage()

		return errors.New("missing image file path")
	}

	imgPath := flags.Arg(0)

	if _, err := os.Stat(imgPath); err == nil {
		return fmt.Errorf("image already exists: %s (use 'appfsctl %s' to open it)", imgPath, imgPath)
	}

	lock, err := hostfs.NewReal().Lock(imgPath)
	if err != nil {
		return fmt.Errorf("locking %q: %w", imgPath, err)
	}
	defer lock.Close()

	flash, err := appfsio.CreateFile(imgPath, *size)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}

	fs, err := appfs.Init(flash)
	if err != nil && !errors.Is(err, appfs.ErrCorrupt) {
		return fmt.Errorf("initializing partition: %w", err)
	}

	fmt.Printf("Created %s (%d bytes, %d free)\n", imgPath, *size, fs.FreeSpace())

	repl := &REPL{fs: fs, path: imgPath, cfg: cfg}

	return repl.run()
}

func runOpen(args []string) error {
	cfg, err := config.Load(config.LoadInput{Env: envMap()})
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("open", pflag.ExitOnError)

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: appfsctl <image-file>\n\nOpen an existing AppFs image.\n")
	}

	if err := flags.Parse(args); err != nil {
		return err
	}

	imgPath := flags.Arg(0)
	if imgPath == "" {
		imgPath = cfg.DefaultImagePath
	}

	if imgPath == "" {
		flags.Usage()

		return errors.New("missing image file path")
	}

	if _, err := os.Stat(imgPath); os.IsNotExist(err) {
		return fmt.Errorf("image does not exist: %s (use 'appfsctl new %s' to create it)", imgPath, imgPath)
	}

	lock, err := hostfs.NewReal().Lock(imgPath)
	if err != nil {
		return fmt.Errorf("locking %q: %w", imgPath, err)
	}
	defer lock.Close()

	flash, err := appfsio.OpenFile(imgPath)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}

	fs, err := appfs.Init(flash)
	if err != nil {
		if !errors.Is(err, appfs.ErrCorrupt) {
			return fmt.Errorf("initializing partition: %w", err)
		}

		fmt.Fprintf(os.Stderr, "warning: metadata was corrupt, partition reinitialized\n")
	}

	repl := &REPL{fs: fs, path: imgPath, cfg: cfg}

	return repl.run()
}

func envMap() map[string]string {
	out := make(map[string]string)

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}

	return out
}

// REPL is the interactive command loop over an open filesystem.
type REPL struct {
	fs    *appfs.Fs
	path  string
	cfg   config.Config
	liner *liner.State
}

func (r *REPL) historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, r.cfg.HistoryFile)
}

func (r *REPL) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(r.historyPath()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("appfsctl - %s (%d bytes free)\n", r.path, r.fs.FreeSpace())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("appfsctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()
		case "ls", "list":
			r.cmdLs()
		case "cat":
			r.cmdCat(args)
		case "create":
			r.cmdCreate(args)
		case "rm", "delete", "del":
			r.cmdRm(args)
		case "mv", "rename":
			r.cmdMv(args)
		case "df":
			r.cmdDf()
		case "dump":
			fmt.Print(r.fs.Dump())
		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	path := r.historyPath()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"ls", "list", "cat", "create", "rm", "delete", "del", "mv", "rename", "df", "dump", "help", "exit", "quit", "q"}

	var completions []string

	lower := strings.ToLower(line)

	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			completions = append(completions, c)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  ls                         List files")
	fmt.Println("  cat <name>                 Print a file's contents")
	fmt.Println("  create <name> <text>       Create a file with the given text as its content")
	fmt.Println("  rm <name>                  Delete a file")
	fmt.Println("  mv <from> <to>             Rename a file")
	fmt.Println("  df                         Show free space")
	fmt.Println("  dump                       Show raw descriptor listing")
	fmt.Println("  help                       Show this help")
	fmt.Println("  exit / quit / q            Exit")
}

func (r *REPL) cmdLs() {
	handle := 0

	for {
		next, ok := r.fs.NextEntry(handle)
		if !ok {
			break
		}

		name, size, err := r.fs.EntryInfo(next)
		if err != nil {
			fmt.Printf("error: %v\n", err)

			return
		}

		fmt.Printf("%4d  %-32s %d\n", next, name, size)

		handle = next
	}
}

func (r *REPL) cmdCat(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: cat <name>")

		return
	}

	handle, err := r.fs.Open(args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	_, size, err := r.fs.EntryInfo(handle)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	data, err := r.fs.Read(handle, 0, int64(size))
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	os.Stdout.Write(data)
	fmt.Println()
}

func (r *REPL) cmdCreate(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: create <name> <text>")

		return
	}

	name := args[0]
	text := strings.Join(args[1:], " ")

	handle, err := r.fs.Create(name, uint32(len(text)))
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if len(text) > 0 {
		if err := r.fs.Write(handle, 0, []byte(text)); err != nil {
			fmt.Printf("error: %v\n", err)

			return
		}
	}

	fmt.Printf("created %q handle=%d size=%d\n", name, handle, len(text))
}

func (r *REPL) cmdRm(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: rm <name>")

		return
	}

	if err := r.fs.Delete(args[0]); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("deleted %q\n", args[0])
}

func (r *REPL) cmdMv(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: mv <from> <to>")

		return
	}

	if err := r.fs.Rename(args[0], args[1]); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("renamed %q -> %q\n", args[0], args[1])
}

func (r *REPL) cmdDf() {
	fmt.Printf("%d bytes free\n", r.fs.FreeSpace())
}
