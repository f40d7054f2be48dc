package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cl "taskos/internal/cli"
	"taskos/internal/config"
	"taskos/internal/reassign"
	"taskos/internal/task"

	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	actor := cfg.UserID

	root := &cobra.Command{
		Use:          "tk",
		Short:        "Task and stonks ledger client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&actor, "as", actor, "act as this user id")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(&actor),
		newTaskCmd(&apiBase, &actor),
		newLedgerCmd(&apiBase),
		newAnalyticsCmd(&apiBase),
		newUsersCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// resolveActor prefers --as or TK_USER_ID, then the saved session.
func resolveActor(actor *string) (string, error) {
	if v := strings.TrimSpace(*actor); v != "" {
		return v, nil
	}
	s, err := cl.LoadSession()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("no user set: run `tk login <user-id>` or pass --as")
		}
		return "", err
	}
	return s.UserID, nil
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [user-id]",
		Short: "Remember which user the CLI acts as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var userID string
			if len(args) == 1 {
				userID = args[0]
			} else {
				var err error
				if userID, err = promptRequired("User id"); err != nil {
					return err
				}
			}
			if err := cl.SaveSession(cl.Session{UserID: userID}); err != nil {
				return err
			}
			printSuccess("Acting as " + strings.TrimSpace(userID) + ".")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(actor *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user the CLI acts as",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := resolveActor(actor)
			if err != nil {
				return err
			}
			printInfo(userID)
			return nil
		},
	}
}

func newTaskCmd(apiBase, actor *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, assign and complete tasks",
	}

	var title, jira, desc string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if strings.TrimSpace(title) == "" {
				if title, err = promptRequired("Title"); err != nil {
					return err
				}
			}
			if strings.TrimSpace(jira) == "" {
				if jira, err = promptJiraID("Jira id"); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("description") {
				if desc, err = promptOptional("Description (optional)"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			t, err := newClient(apiBase).CreateTask(ctx, task.CreateInput{Title: title, JiraID: jira, Description: desc})
			if err != nil {
				return err
			}
			printSuccess("Task created.")
			renderTask(t)
			return nil
		},
	}
	create.Flags().StringVar(&title, "title", "", "task title")
	create.Flags().StringVar(&jira, "jira", "", "jira id, e.g. OPS-12")
	create.Flags().StringVar(&desc, "description", "", "task description")

	show := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			t, err := newClient(apiBase).GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			renderTask(t)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List assigned tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			tasks, err := newClient(apiBase).AssignedTasks(ctx)
			if err != nil {
				return err
			}
			renderTasks(tasks)
			return nil
		},
	}

	assign := &cobra.Command{
		Use:   "assign <task-id> [assignee]",
		Short: "Assign a task; defaults to yourself",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var assignee string
			if len(args) == 2 {
				assignee = args[1]
			} else {
				var err error
				if assignee, err = resolveActor(actor); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			t, err := newClient(apiBase).AssignTask(ctx, args[0], assignee)
			if err != nil {
				return err
			}
			printWarn(fmt.Sprintf("Assigned to %s. %d stonks charged.", t.Assignee, t.Price))
			return nil
		},
	}

	complete := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task assigned to you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := resolveActor(actor)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			t, err := newClient(apiBase).CompleteTask(ctx, userID, args[0])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Completed. %d stonks earned.", t.Reward))
			return nil
		},
	}

	reassignOne := &cobra.Command{
		Use:   "reassign [task-id]",
		Short: "Reassign one task now, or every assigned task in the background",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			client := newClient(apiBase)
			if len(args) == 1 {
				t, err := client.ReassignTask(ctx, args[0])
				if err != nil {
					return err
				}
				printSuccess("Reassigned to " + t.Assignee + ".")
				return nil
			}
			n, err := client.ReassignAll(ctx)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Requested reassignment of %d tasks.", n))
			return nil
		},
	}

	cmd.AddCommand(create, show, list, assign, complete, reassignOne)
	return cmd
}

func newLedgerCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect books and run payouts",
	}

	books := &cobra.Command{
		Use:   "books <user-id>",
		Short: "Show a user's books",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			v, err := newClient(apiBase).Books(ctx, args[0])
			if err != nil {
				return err
			}
			renderBooks(v)
			return nil
		},
	}

	entries := &cobra.Command{
		Use:   "entries <user-id>",
		Short: "List a user's movement entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			list, err := newClient(apiBase).Entries(ctx, args[0])
			if err != nil {
				return err
			}
			renderEntries(args[0], list)
			return nil
		},
	}

	outstanding := &cobra.Command{
		Use:   "outstanding",
		Short: "List what every user is owed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := newClient(apiBase).OutstandingPayouts(ctx)
			if err != nil {
				return err
			}
			renderOutstanding(out)
			return nil
		},
	}

	var yes bool
	payout := &cobra.Command{
		Use:   "payout",
		Short: "Pay out every outstanding balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer, err := promptChoice("Pay out all outstanding balances?", []string{"yes", "no"}, "no")
				if err != nil {
					return err
				}
				if answer != "yes" {
					printInfo("Cancelled.")
					return nil
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			summary, err := newClient(apiBase).RunPayouts(ctx)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Paid %s stonks to %d users.", comma(summary.Total), summary.Users))
			return nil
		},
	}
	payout.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")

	var date string
	stonks := &cobra.Command{
		Use:   "stonks",
		Short: "Company stonks earned on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			total, err := newClient(apiBase).Stonks(ctx, date)
			if err != nil {
				return err
			}
			label := date
			if label == "" {
				label = "today"
			}
			fmt.Printf("Stonks %s: %s\n", label, colorizeStonks(total))
			return nil
		},
	}
	stonks.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD, default today")

	cmd.AddCommand(books, entries, outstanding, payout, stonks)
	return cmd
}

func newAnalyticsCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Daily figures",
	}

	today := &cobra.Command{
		Use:   "today",
		Short: "Today's max price, revenue and loser count",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			stats, err := newClient(apiBase).AnalyticsToday(ctx)
			if err != nil {
				return err
			}
			renderStats(stats)
			return nil
		},
	}

	maxPrice := &cobra.Command{
		Use:   "max-price <from> <to>",
		Short: "Highest task price between two days (YYYY-MM-DD, inclusive)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			v, err := newClient(apiBase).MaxPrice(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Max price %s..%s: %s stonks\n", args[0], args[1], comma(v))
			return nil
		},
	}

	cmd.AddCommand(today, maxPrice)
	return cmd
}

func newUsersCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the worker directory",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List known users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			users, err := newClient(apiBase).Users(ctx)
			if err != nil {
				return err
			}
			renderUsers(users)
			return nil
		},
	}

	var email, role string
	add := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if role == "" {
				role, err = promptChoice("Role", []string{"worker", "admin", "manager", "accountant"}, "worker")
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			u, err := newClient(apiBase).UpsertUser(ctx, reassign.User{
				ID:    args[0],
				Email: email,
				Role:  reassign.Role(role),
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Saved %s as %s.", u.ID, u.Role))
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().StringVar(&role, "role", "", "worker, admin, manager or accountant")

	cmd.AddCommand(list, add)
	return cmd
}
