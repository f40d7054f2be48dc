package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"taskos/internal/analytics"
	"taskos/internal/cli"
	"taskos/internal/ledger"
	"taskos/internal/reassign"
	"taskos/internal/task"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var errNotInteractive = errors.New("stdin is not a terminal; pass the value as a flag")

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func promptRequired(label string) (string, error) {
	if !interactive() {
		return "", fmt.Errorf("%s: %w", strings.ToLower(label), errNotInteractive)
	}
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	if !interactive() {
		return "", nil
	}
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	if !interactive() {
		return strings.ToLower(defaultValue), nil
	}
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptJiraID(label string) (string, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		text = strings.ToUpper(text)
		if task.ValidateJiraID(text) {
			return text, nil
		}
		printWarn("Jira id must look like ABC-123.")
	}
}

func renderTask(t task.Task) {
	accent.Printf("\n== TASK %s ==\n", t.ID)
	fmt.Printf("Title:        %s\n", t.Title)
	if t.JiraID != "" {
		fmt.Printf("Jira:         %s\n", t.JiraID)
	}
	if t.Description != "" {
		fmt.Printf("Description:  %s\n", t.Description)
	}
	fmt.Printf("State:        %s\n", colorizeState(t.State))
	if t.Assignee != "" {
		fmt.Printf("Assignee:     %s\n", t.Assignee)
	}
	fmt.Printf("Price:        %s stonks\n", comma(t.Price))
	if t.State == task.StateCompleted {
		fmt.Printf("Reward:       %s stonks\n", comma(t.Reward))
	}
	fmt.Printf("Updated:      %s\n", t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Println()
}

func renderTasks(tasks []task.Task) {
	accent.Println("\nAssigned tasks")
	if len(tasks) == 0 {
		printInfo("Nothing assigned.")
		return
	}
	fmt.Printf("%-36s %-10s %-28s %-16s %6s\n", "ID", "JIRA", "TITLE", "ASSIGNEE", "PRICE")
	for _, t := range tasks {
		fmt.Printf("%-36s %-10s %-28s %-16s %6d\n",
			t.ID,
			truncate(t.JiraID, 10),
			truncate(t.Title, 28),
			truncate(t.Assignee, 16),
			t.Price,
		)
	}
	fmt.Println()
}

func renderBooks(v cli.BooksView) {
	accent.Printf("\n== BOOKS %s ==\n", v.UserID)
	fmt.Printf("%-14s %10s %10s %10s\n", "BOOK", "INCREASE", "DECREASE", "NET")
	for _, row := range []struct {
		name string
		b    ledger.Bucket
	}{
		{string(ledger.CompanyStonks), v.Books.CompanyStonks},
		{string(ledger.UserStonks), v.Books.UserStonks},
		{string(ledger.MagicRevenue), v.Books.MagicRevenue},
	} {
		fmt.Printf("%-14s %10s %10s %10s\n", row.name, comma(row.b.Increase), comma(row.b.Decrease), colorizeStonks(row.b.Net()))
	}
	fmt.Printf("\nOutstanding payout: %s stonks\n\n", comma(v.Outstanding))
}

func renderEntries(userID string, entries []ledger.Entry) {
	accent.Printf("\nEntries for %s\n", userID)
	if len(entries) == 0 {
		printInfo("No entries yet.")
		return
	}
	fmt.Printf("%-19s %-8s %-14s %-14s %8s\n", "WHEN", "KIND", "DEBIT", "CREDIT", "AMOUNT")
	for _, e := range entries {
		kind, ok := e.Kind()
		if !ok {
			kind = "other"
		}
		fmt.Printf("%-19s %-8s %-14s %-14s %8s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			kind,
			e.Debit,
			e.Credit,
			comma(e.Amount),
		)
	}
	fmt.Println()
}

func renderOutstanding(out map[string]int64) {
	accent.Println("\nOutstanding payouts")
	if len(out) == 0 {
		printInfo("Nobody is owed anything.")
		return
	}
	users := make([]string, 0, len(out))
	for u := range out {
		users = append(users, u)
	}
	sort.Strings(users)
	var total int64
	for _, u := range users {
		fmt.Printf("%-24s %10s\n", truncate(u, 24), comma(out[u]))
		total += out[u]
	}
	fmt.Printf("%-24s %10s\n\n", "TOTAL", comma(total))
}

func renderStats(s analytics.DailyStats) {
	accent.Printf("\n== TODAY (day %d) ==\n", s.Day)
	fmt.Printf("Most expensive task: %s stonks\n", comma(s.MaxPrice))
	fmt.Printf("Company revenue:     %s stonks\n", colorizeStonks(s.TopRevenue))
	fmt.Printf("Workers in the red:  %d\n\n", s.Losers)
}

func renderUsers(users []reassign.User) {
	accent.Println("\nUsers")
	if len(users) == 0 {
		printInfo("No users known yet.")
		return
	}
	fmt.Printf("%-24s %-32s %-10s\n", "ID", "EMAIL", "ROLE")
	for _, u := range users {
		fmt.Printf("%-24s %-32s %-10s\n", truncate(u.ID, 24), truncate(u.Email, 32), u.Role)
	}
	fmt.Println()
}

func colorizeState(s task.State) string {
	switch s {
	case task.StateCompleted:
		return success.Sprint(s)
	case task.StateAssigned:
		return warn.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func colorizeStonks(v int64) string {
	text := comma(v)
	if v > 0 {
		text = "+" + text
	}
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
