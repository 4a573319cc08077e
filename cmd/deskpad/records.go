package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkrause/deskpad/internal/schema"
	"github.com/mkrause/deskpad/internal/service"
)

var (
	addBody     string
	addCategory string
	addDueIn    time.Duration
	noteBody    string
	listNotes   bool
)

// syncAfterMutation runs a best-effort sync round so a one-shot CLI
// invocation does not leave its change pending until the next daemon run.
func syncAfterMutation(a *app) {
	a.service.TriggerSync()
	if status := a.service.SyncStatus(); status.PendingCount > 0 {
		fmt.Printf("(%d changes pending, will sync later)\n", status.PendingCount)
	}
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		params := service.TaskParams{
			Title:    joinArgs(args),
			Body:     addBody,
			Category: schema.Category(addCategory),
		}
		if addDueIn > 0 {
			due := time.Now().Add(addDueIn).UnixMilli()
			params.DueAt = &due
		}

		task, err := a.service.CreateTask(params)
		if err != nil {
			return err
		}
		fmt.Printf("Created task %s\n", task.ID)
		syncAfterMutation(a)
		return nil
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <title>",
	Short: "Create a note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		note, err := a.service.CreateNote(service.NoteParams{
			Title:    joinArgs(args),
			Body:     noteBody,
			Category: schema.CategoryInbox,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created note %s\n", note.ID)
		syncAfterMutation(a)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks (or notes with --notes)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if listNotes {
			for _, n := range a.service.ListNotes() {
				fmt.Printf("%s  [%s]  %s\n", n.ID, n.Category, n.Title)
			}
			return nil
		}

		now := schema.NowMillis()
		for _, t := range a.service.ListTasks() {
			mark := " "
			if t.Completed {
				mark = "x"
			}
			urgency := ""
			if u := schema.TaskUrgency(t, now); u != schema.UrgencyNone {
				urgency = "  !" + u.String()
			}
			fmt.Printf("[%s] %s  [%s]  %s%s\n", mark, t.ID, t.Category, t.Title, urgency)
		}
		return nil
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		var current *schema.Task
		for _, t := range a.service.ListTasks() {
			if t.ID == args[0] {
				task := t
				current = &task
				break
			}
		}
		if current == nil {
			return fmt.Errorf("task %s not found", args[0])
		}

		_, err = a.service.UpdateTask(current.ID, service.TaskParams{
			Title:     current.Title,
			Body:      current.Body,
			Category:  current.Category,
			Completed: true,
			DueAt:     current.DueAt,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Completed %s\n", current.ID)
		syncAfterMutation(a)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		a.service.DeleteTask(args[0])
		fmt.Printf("Deleted %s\n", args[0])
		syncAfterMutation(a)
		return nil
	},
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func init() {
	addCmd.Flags().StringVar(&addBody, "body", "", "task body text")
	addCmd.Flags().StringVar(&addCategory, "category", string(schema.CategoryInbox), "task category")
	addCmd.Flags().DurationVar(&addDueIn, "due-in", 0, "due time as an offset from now (e.g. 2h)")
	noteCmd.Flags().StringVar(&noteBody, "body", "", "note body text")
	listCmd.Flags().BoolVar(&listNotes, "notes", false, "list notes instead of tasks")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(rmCmd)
}
