package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cpan115/pan115-go/internal/pan"
	"github.com/cpan115/pan115-go/internal/transfer"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [id-or-path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <remote-path>",
		Short: "Create a folder (recursive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id-or-path>",
		Short: "Delete a file or folder (moves to the recycle bin)",
		Long: `Delete a file or folder on 115. Items are moved to the recycle bin
and can be restored from the web interface.

Folder deletion is recursive — all contents will be deleted.
Use --recursive (-r) to confirm intent when deleting folders.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <id-or-path> <folder-id-or-path>",
		Short: "Move a file or folder into another folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func newCpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <id-or-path> <folder-id-or-path>",
		Short: "Copy a file or folder into another folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runCp,
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id-or-path> <new-name>",
		Short: "Rename a file or folder in place",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <id-or-path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	ref := pan.RootID
	if len(args) > 0 {
		ref = args[0]
	}

	ctx := cmd.Context()

	logger := buildLogger()

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	item, err := transfer.ResolveRemote(ctx, client, ref, logger)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", ref, err)
	}

	if !item.IsFolder {
		if flagJSON {
			return printItemsJSON([]pan.Item{*item})
		}

		printItemsTable([]pan.Item{*item})

		return nil
	}

	items, err := client.ListChildren(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("listing %q: %w", ref, err)
	}

	if flagJSON {
		return printItemsJSON(items)
	}

	printItemsTable(items)

	return nil
}

// lsJSONItem is the JSON output schema for a single item in ls output.
type lsJSONItem struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	ModifiedAt string `json:"modified_at"`
	ID         string `json:"id"`
}

func printItemsJSON(items []pan.Item) error {
	out := make([]lsJSONItem, 0, len(items))
	for i := range items {
		out = append(out, lsJSONItem{
			Name:       items[i].Name,
			Size:       items[i].Size,
			IsFolder:   items[i].IsFolder,
			ModifiedAt: items[i].ModifiedAt.Format("2006-01-02T15:04:05Z"),
			ID:         items[i].ID,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printItemsTable(items []pan.Item) {
	// Sort: folders first, then alphabetical.
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsFolder != items[j].IsFolder {
			return items[i].IsFolder
		}

		return items[i].Name < items[j].Name
	})

	headers := []string{"NAME", "SIZE", "MODIFIED", "ID"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].Name
		size := formatSize(items[i].Size)

		if items[i].IsFolder {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(items[i].ModifiedAt), items[i].ID})
	}

	printTable(os.Stdout, headers, rows)
}

func runMkdir(cmd *cobra.Command, args []string) error {
	remotePath := strings.Trim(args[0], "/")
	if remotePath == "" {
		return fmt.Errorf("cannot create the root directory")
	}

	ctx := cmd.Context()

	logger := buildLogger()

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	// DirEnsurer gives recursive get-or-create, so mkdir of an existing
	// path is a no-op rather than an error.
	id, err := transfer.NewDirEnsurer(client, pan.RootID, logger).Ensure(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("creating %q: %w", args[0], err)
	}

	statusf("Created /%s (id %s).\n", remotePath, id)

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logger := buildLogger()

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	item, err := transfer.ResolveRemote(ctx, client, args[0], logger)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if item.ID == pan.RootID {
		return fmt.Errorf("refusing to delete the root directory")
	}

	if item.IsFolder {
		recursive, _ := cmd.Flags().GetBool("recursive")
		if !recursive {
			return fmt.Errorf("%q is a folder — pass --recursive to delete it and its contents", item.Name)
		}
	}

	if err := client.DeleteItems(ctx, item.ID); err != nil {
		return fmt.Errorf("deleting %q: %w", args[0], err)
	}

	statusf("Deleted %s.\n", item.Name)

	return nil
}

// resolveItemAndFolder resolves the source item and destination folder
// for mv/cp. The destination must be a directory.
func resolveItemAndFolder(cmd *cobra.Command, args []string) (*pan.Client, *pan.Item, *pan.Item, error) {
	ctx := cmd.Context()

	logger := buildLogger()

	client, err := apiClient(logger)
	if err != nil {
		return nil, nil, nil, err
	}

	item, err := transfer.ResolveRemote(ctx, client, args[0], logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolving %q: %w", args[0], err)
	}

	dest, err := transfer.ResolveRemote(ctx, client, args[1], logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolving %q: %w", args[1], err)
	}

	if !dest.IsFolder {
		return nil, nil, nil, fmt.Errorf("%q is not a folder", args[1])
	}

	return client, item, dest, nil
}

func runMv(cmd *cobra.Command, args []string) error {
	client, item, dest, err := resolveItemAndFolder(cmd, args)
	if err != nil {
		return err
	}

	if item.ID == pan.RootID {
		return fmt.Errorf("refusing to move the root directory")
	}

	if err := client.MoveItems(cmd.Context(), dest.ID, item.ID); err != nil {
		return fmt.Errorf("moving %q: %w", args[0], err)
	}

	statusf("Moved %s into %s.\n", item.Name, dest.Name)

	return nil
}

func runCp(cmd *cobra.Command, args []string) error {
	client, item, dest, err := resolveItemAndFolder(cmd, args)
	if err != nil {
		return err
	}

	if item.ID == pan.RootID {
		return fmt.Errorf("refusing to copy the root directory")
	}

	if err := client.CopyItems(cmd.Context(), dest.ID, item.ID); err != nil {
		return fmt.Errorf("copying %q: %w", args[0], err)
	}

	statusf("Copied %s into %s.\n", item.Name, dest.Name)

	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	newName := args[1]
	if newName == "" || strings.ContainsAny(newName, "/\\") {
		return fmt.Errorf("invalid name %q", newName)
	}

	ctx := cmd.Context()

	logger := buildLogger()

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	item, err := transfer.ResolveRemote(ctx, client, args[0], logger)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if item.ID == pan.RootID {
		return fmt.Errorf("refusing to rename the root directory")
	}

	if err := client.RenameItem(ctx, item.ID, newName); err != nil {
		return fmt.Errorf("renaming %q: %w", args[0], err)
	}

	statusf("Renamed %s to %s.\n", item.Name, newName)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logger := buildLogger()

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	item, err := transfer.ResolveRemote(ctx, client, args[0], logger)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(item)
	}

	kind := "file"
	if item.IsFolder {
		kind = "folder"
	}

	fmt.Printf("Name:      %s\n", item.Name)
	fmt.Printf("ID:        %s\n", item.ID)
	fmt.Printf("Kind:      %s\n", kind)
	fmt.Printf("Parent:    %s\n", item.ParentID)

	if !item.IsFolder {
		fmt.Printf("Size:      %s (%d bytes)\n", formatSize(item.Size), item.Size)
		fmt.Printf("SHA1:      %s\n", item.SHA1)
		fmt.Printf("PickCode:  %s\n", item.PickCode)
	}

	if !item.ModifiedAt.IsZero() {
		fmt.Printf("Modified:  %s\n", item.ModifiedAt.Format("2006-01-02 15:04:05 MST"))
	}

	return nil
}
