package plugins

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dohr-michael/cadre/internal/docstore"
	"github.com/dohr-michael/cadre/internal/skills"
)

// FileSkills exposes the document store to personas: read_file, list_files
// and write_file. Every path is confined to the document root.
type FileSkills struct {
	store    *docstore.Store
	maxChars int
}

// NewFileSkills creates the document skills. Reads longer than maxChars are
// truncated.
func NewFileSkills(store *docstore.Store, maxChars int) *FileSkills {
	if maxChars <= 0 {
		maxChars = 10000
	}
	return &FileSkills{store: store, maxChars: maxChars}
}

// Definitions returns read_file, list_files and write_file.
func (f *FileSkills) Definitions() []skills.Definition {
	return []skills.Definition{
		{
			Name:        "read_file",
			DisplayName: "Read Company Document",
			Description: "Read the content of a file from the " + docstore.RootLabel + " storage.",
			Category:    "documents",
			Params: []skills.Param{
				{Name: "file_path", Type: "string", Description: "The path to the file (relative to " + docstore.RootLabel + ").", Required: true},
			},
			Handler: f.readFile,
		},
		{
			Name:        "list_files",
			DisplayName: "List Company Documents",
			Description: "List the files in the " + docstore.RootLabel + " directory to find a specific document.",
			Category:    "documents",
			Params: []skills.Param{
				{Name: "subdir", Type: "string", Description: "Optional subdirectory to list (e.g. a colleague's name)."},
				{Name: "pattern", Type: "string", Description: "Optional glob filter such as '*.md' or '**/Report*'."},
			},
			Handler: f.listFiles,
		},
		{
			Name:        "write_file",
			DisplayName: "Write Company Document",
			Description: "Save a document into your own folder of " + docstore.RootLabel + ".",
			Category:    "documents",
			Params: []skills.Param{
				{Name: "file_path", Type: "string", Description: "File name, relative to your folder.", Required: true},
				{Name: "content", Type: "string", Description: "Full document content.", Required: true},
			},
			Handler: f.writeFile,
		},
	}
}

func (f *FileSkills) readFile(ctx context.Context, _ skills.Config, args skills.Args) (string, error) {
	requested := args.First("file_path", "path", "filename", "file")
	if requested == "" {
		return "[ERROR: Missing 'file_path' argument. Please specify the file to read.]", nil
	}

	p, err := f.store.Resolve(ctx, requested)
	if err != nil {
		switch {
		case errors.Is(err, docstore.ErrOutsideSandbox):
			return accessDenied(), nil
		case errors.Is(err, docstore.ErrNotFound):
			base := path.Base(strings.ReplaceAll(requested, "\\", "/"))
			stem := strings.TrimSuffix(base, path.Ext(base))
			return fmt.Sprintf("[ERROR: File not found: %s. (Searched for exact name and latest version starting with '%s')]", requested, stem), nil
		}
		return "", fmt.Errorf("read_file: resolve %s: %w", requested, err)
	}

	data, err := f.store.Read(ctx, p)
	if err != nil {
		if errors.Is(err, docstore.ErrOutsideSandbox) {
			return accessDenied(), nil
		}
		return "", fmt.Errorf("read_file: %w", err)
	}

	content := []rune(string(data))
	if len(content) > f.maxChars {
		return fmt.Sprintf("[FILE CONTENT (Truncated first %d chars)]:\n%s...\n(File too large)", f.maxChars, string(content[:f.maxChars])), nil
	}
	return "[FILE CONTENT]:\n" + string(data), nil
}

func (f *FileSkills) listFiles(ctx context.Context, _ skills.Config, args skills.Args) (string, error) {
	subdir := strings.Trim(strings.ReplaceAll(args.First("subdir", "dir", "directory"), "\\", "/"), "/")
	pattern := args.First("pattern", "glob")
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return fmt.Sprintf("[ERROR: Invalid pattern: %s]", pattern), nil
	}

	clean, err := docstore.Clean(subdir)
	if err != nil {
		return accessDenied(), nil
	}

	// A pattern searches the whole subtree; otherwise only direct children.
	entries, err := f.store.List(ctx, clean, pattern != "")
	if err != nil {
		switch {
		case errors.Is(err, docstore.ErrOutsideSandbox):
			return accessDenied(), nil
		case errors.Is(err, docstore.ErrNotFound):
			return fmt.Sprintf("[ERROR: Directory not found: %s]", subdir), nil
		}
		return "", fmt.Errorf("list_files: %w", err)
	}

	var dirs, files []string
	for _, e := range entries {
		rel := strings.TrimPrefix(strings.TrimPrefix(e.Path, clean), "/")
		if e.Dir {
			dirs = append(dirs, rel)
			continue
		}
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, rel); !ok {
				if ok, _ := doublestar.Match(pattern, e.Name()); !ok {
					continue
				}
			}
		}
		files = append(files, rel)
	}
	sort.Strings(dirs)
	sort.Strings(files)

	if clean == "" && pattern == "" {
		return fmt.Sprintf("[CONTENTS of %s]:\nDIRS: %s\nFILES: %s\n(Tip: Use subdir='AgentName' to see their files)",
			docstore.RootLabel, strings.Join(dirs, ", "), strings.Join(files, ", ")), nil
	}
	label := clean
	if label == "" {
		label = docstore.RootLabel
	}
	return fmt.Sprintf("[FILES in %s]:\n%s", label, strings.Join(files, "\n")), nil
}

func (f *FileSkills) writeFile(ctx context.Context, cfg skills.Config, args skills.Args) (string, error) {
	name := args.First("file_path", "path", "filename", "file")
	if name == "" {
		return "[ERROR: Missing 'file_path' argument. Please specify the file name.]", nil
	}
	content := args.String("content")
	if content == "" {
		return "[ERROR: Missing 'content' argument. Nothing to write.]", nil
	}

	dir := docstore.PersonaDir(cfg["persona_name"])
	rel, err := docstore.Clean(name)
	if err != nil {
		return accessDenied(), nil
	}
	// Paths already inside the persona folder are kept as they are.
	if rel != dir && !strings.HasPrefix(rel, dir+"/") {
		rel = path.Join(dir, rel)
	}
	if path.Ext(rel) == "" {
		rel += ".md"
	}

	if err := f.store.Write(ctx, rel, []byte(content)); err != nil {
		if errors.Is(err, docstore.ErrOutsideSandbox) {
			return accessDenied(), nil
		}
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("[FILE SAVED]: %s/%s", docstore.RootLabel, rel), nil
}

func accessDenied() string {
	return fmt.Sprintf("[ERROR: Access Denied. You can only read files within '%s'.]", docstore.RootLabel)
}
