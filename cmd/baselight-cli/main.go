// Package main provides a CLI tool for inspecting and seeding profile
// baseline images without running the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/baselight/baselight/internal/capability/osfs"
	"github.com/baselight/baselight/internal/logging"
	"github.com/baselight/baselight/internal/profile"
)

func main() {
	baseDir := flag.String("base", "/data/profiles", "Base directory for profiles")
	profileHint := flag.String("profile", "", "Profile directory (relative to base)")
	createName := flag.String("create", "", "Create a profile with this name under -profile")
	limit := flag.Int("limit", profile.BaselineLimit, "Max baseline images per save")
	logLevel := flag.String("log", "error", "Log level")

	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console"})
	defer logging.Sync()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	picker, err := osfs.New(osfs.Config{BaseDir: *baseDir, CreateDirs: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening base directory: %v\n", err)
		os.Exit(1)
	}
	store := profile.NewStore(picker)

	ctx := context.Background()

	var p *profile.Profile
	if *createName != "" {
		p, err = store.Create(ctx, *profileHint, *createName)
	} else {
		p, err = store.Open(ctx, *profileHint)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening profile: %v\n", err)
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "list", "ls":
		cmdList(ctx, store, p)
	case "save":
		cmdSave(ctx, store, p, cmdArgs, *limit)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func cmdList(ctx context.Context, store *profile.Store, p *profile.Profile) {
	assets := store.ListAssets(ctx, p)
	if len(assets) == 0 {
		fmt.Printf("Profile %q has no baseline images.\n", p.Name())
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tTYPE")
	for _, a := range assets {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", a.Name, a.Size, a.MIMEType)
	}
	tw.Flush()
}

func cmdSave(ctx context.Context, store *profile.Store, p *profile.Profile, paths []string, limit int) {
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "save: at least one file path required")
		os.Exit(1)
	}

	uploads := make([]profile.FileUpload, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
			os.Exit(1)
		}
		uploads = append(uploads, profile.FileUpload{
			Name:    filepath.Base(path),
			Content: data,
		})
	}

	if err := store.SaveAssets(ctx, p, uploads, limit); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving assets: %v\n", err)
		os.Exit(1)
	}

	saved := len(uploads)
	if limit > 0 && saved > limit {
		saved = limit
	}
	fmt.Printf("Saved %d baseline image(s) to profile %q.\n", saved, p.Name())
}

func printUsage() {
	fmt.Println(`Baselight CLI

Usage: baselight-cli [flags] <command> [args]

Flags:
  -base <dir>      Base directory for profiles (default: /data/profiles)
  -profile <dir>   Profile directory relative to base (required)
  -create <name>   Create a profile named <name> under -profile
  -limit <n>       Max baseline images per save (default: 3)

Commands:
  list             List baseline images in the profile
  save <files...>  Save files as baseline images (overwrites same names)
  help             Show this help`)
}
