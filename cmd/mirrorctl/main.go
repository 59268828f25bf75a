package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var serverAddr string

var stageOrder = []string{
	"SYNC_USERS",
	"SYNC_GROUPS",
	"SYNC_MEMBERSHIPS_BY_USER",
	"SYNC_MEMBERSHIPS_BY_GROUP",
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "mirrorctl",
		Short: "mirrorctl controls the dirmirror reconciliation daemon",
		Long:  `A command line tool to trigger sync runs and inspect the directory mirror.`,
	}

	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "http://localhost:8080", "The address and port of the dirmirror API server")

	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newNotificationCommand())
	rootCmd.AddCommand(newUsersCommand())
	rootCmd.AddCommand(newGroupsCommand())
	rootCmd.AddCommand(newApplyCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [users|groups|memberships|all]",
		Short: "Trigger a sync run against the directory",
		Long: `Run one reconciliation pass for a single entity type, or a full pass
over all four stages when no argument (or "all") is given.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			scope := "all"
			if len(args) == 1 {
				scope = args[0]
			}

			var endpoint string
			switch scope {
			case "users":
				endpoint = "/users/sync"
			case "groups":
				endpoint = "/groups/sync"
			case "memberships":
				endpoint = "/memberships/sync"
			case "all":
				endpoint = "/sync/run"
			default:
				fmt.Printf("Error: Unknown sync scope %q\n", scope)
				return
			}

			resp, err := http.Post(serverAddr+endpoint, "application/json", nil)
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)

			switch resp.StatusCode {
			case http.StatusOK:
				for _, result := range decodeStageResults(body) {
					printStageResult(result)
				}
			case http.StatusConflict:
				fmt.Println("⚠ A sync pass is already running")
			default:
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
			}
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last result of every sync stage",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := http.Get(serverAddr + "/sync/status")
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
				return
			}

			var status map[string]map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				fmt.Printf("Error decoding server response: %v\n", err)
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, '\t', 0)
			fmt.Fprintln(w, "STAGE\tRESULT\tFETCHED\tINSERTED\tUPDATED\tDELETED\tFINISHED")
			for _, stage := range stageOrder {
				result, ok := status[stage]
				if !ok {
					fmt.Fprintf(w, "%s\tnever ran\t-\t-\t-\t-\t-\n", stage)
					continue
				}

				outcome := "ok"
				if success, _ := result["success"].(bool); !success {
					outcome = "failed"
				}

				stats, _ := result["stats"].(map[string]any)
				fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%v\t%v\t%v\n",
					stage, outcome,
					stats["fetched"], stats["inserted"], stats["updated"], stats["deleted"],
					result["finishedAt"])
			}
			w.Flush()

			for _, stage := range stageOrder {
				result, ok := status[stage]
				if !ok {
					continue
				}
				if success, _ := result["success"].(bool); !success {
					fmt.Printf("⚠ %s: %v\n", stage, result["error"])
				}
			}
		},
	}
}

func newNotificationCommand() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "notification",
		Short: "Show or clear the aggregated change notification",
		Run: func(cmd *cobra.Command, args []string) {
			if clear {
				resp, err := http.Post(serverAddr+"/sync/notification/clear", "application/json", nil)
				if err != nil {
					fmt.Printf("Error connecting to server: %v\n", err)
					return
				}
				defer resp.Body.Close()

				if resp.StatusCode != http.StatusOK {
					body, _ := io.ReadAll(resp.Body)
					fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
					return
				}

				fmt.Println("Notification cleared")
				return
			}

			resp, err := http.Get(serverAddr + "/sync/notification")
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
				return
			}

			var note map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&note); err != nil {
				fmt.Printf("Error decoding server response: %v\n", err)
				return
			}

			if changed, _ := note["hasChanges"].(bool); !changed {
				fmt.Println("No changes since the last clear")
				return
			}

			for _, key := range []string{"users", "groups", "userGroupAssignments", "groupMembers"} {
				if result, ok := note[key].(map[string]any); ok {
					printStageResult(result)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the aggregated notification")
	return cmd
}

func newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect mirrored users",
	}
	cmd.AddCommand(newUsersListCommand())
	cmd.AddCommand(newUsersGetCommand())
	return cmd
}

func newUsersListCommand() *cobra.Command {
	var (
		search, email, status, userType, country string
		startIndex, count                        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored users",
		Run: func(cmd *cobra.Command, args []string) {
			q := url.Values{}
			q.Set("startIndex", strconv.Itoa(startIndex))
			q.Set("count", strconv.Itoa(count))
			if search != "" {
				q.Set("search", search)
			}
			if email != "" {
				q.Set("email", email)
			}
			if status != "" {
				q.Set("status", status)
			}
			if userType != "" {
				q.Set("userType", userType)
			}
			if country != "" {
				q.Set("country", country)
			}

			resp, err := http.Get(serverAddr + "/users?" + q.Encode())
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
				return
			}

			var page struct {
				Total int              `json:"total"`
				Items []map[string]any `json:"items"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
				fmt.Printf("Error decoding server response: %v\n", err)
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, '\t', 0)
			fmt.Fprintln(w, "ID\tLOGIN\tEMAIL\tLAST NAME\tTYPE\tSTATUS")
			for _, u := range page.Items {
				fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
					u["id"], u["loginName"], u["email"], u["lastName"], u["userType"], u["status"])
			}
			w.Flush()

			if page.Total > len(page.Items) {
				fmt.Printf("\nShowing %d of %d users\n", len(page.Items), page.Total)
			}
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Substring match on login name, email or last name")
	cmd.Flags().StringVar(&email, "email", "", "Exact email filter")
	cmd.Flags().StringVar(&status, "status", "", "Status filter (ACTIVE or INACTIVE)")
	cmd.Flags().StringVar(&userType, "user-type", "", "User type filter")
	cmd.Flags().StringVar(&country, "country", "", "Country filter")
	cmd.Flags().IntVar(&startIndex, "start-index", 1, "1-based index of the first row")
	cmd.Flags().IntVar(&count, "count", 50, "Maximum rows to return")
	return cmd
}

func newUsersGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one mirrored user",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printRecord("/users/", args[0], "User")
		},
	}
}

func newGroupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Inspect and delete mirrored groups",
	}
	cmd.AddCommand(newGroupsListCommand())
	cmd.AddCommand(newGroupsGetCommand())
	cmd.AddCommand(newGroupsDeleteCommand())
	return cmd
}

func newGroupsListCommand() *cobra.Command {
	var (
		search            string
		startIndex, count int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored groups",
		Run: func(cmd *cobra.Command, args []string) {
			q := url.Values{}
			q.Set("startIndex", strconv.Itoa(startIndex))
			q.Set("count", strconv.Itoa(count))
			if search != "" {
				q.Set("search", search)
			}

			resp, err := http.Get(serverAddr + "/groups?" + q.Encode())
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
				return
			}

			var page struct {
				TotalResults int              `json:"totalResults"`
				Resources    []map[string]any `json:"Resources"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
				fmt.Printf("Error decoding server response: %v\n", err)
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, '\t', 0)
			fmt.Fprintln(w, "ID\tNAME\tDISPLAY NAME")
			for _, g := range page.Resources {
				fmt.Fprintf(w, "%v\t%v\t%v\n", g["id"], g["name"], g["displayName"])
			}
			w.Flush()

			if page.TotalResults > len(page.Resources) {
				fmt.Printf("\nShowing %d of %d groups\n", len(page.Resources), page.TotalResults)
			}
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Substring match on name or display name")
	cmd.Flags().IntVar(&startIndex, "start-index", 1, "1-based index of the first row")
	cmd.Flags().IntVar(&count, "count", 50, "Maximum rows to return")
	return cmd
}

func newGroupsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one mirrored group",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printRecord("/groups/", args[0], "Group")
		},
	}
}

func newGroupsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a group from the directory and the mirror",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := args[0]

			req, _ := http.NewRequest(http.MethodDelete, serverAddr+"/groups/"+url.PathEscape(id), nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Printf("Group %q deleted\n", id)
			} else {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Failed to delete (Status: %d): %s\n", resp.StatusCode, string(body))
			}
		},
	}
}

func newApplyCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create a group in the directory from a YAML manifest",
		Run: func(cmd *cobra.Command, args []string) {
			if file == "" {
				fmt.Println("Error: must specify -f <file>")
				return
			}

			data, err := os.ReadFile(file)
			if err != nil {
				fmt.Printf("Error reading file: %v\n", err)
				return
			}

			var manifest struct {
				Kind        string `yaml:"kind"`
				DisplayName string `yaml:"displayName"`
				Name        string `yaml:"name"`
				Description string `yaml:"description"`
			}
			if err := yaml.Unmarshal(data, &manifest); err != nil {
				fmt.Printf("Error parsing YAML: %v\n", err)
				return
			}

			if manifest.Kind != "" && manifest.Kind != "Group" {
				fmt.Printf("Error: Unknown kind %q\n", manifest.Kind)
				return
			}

			payload := map[string]any{"displayName": manifest.DisplayName}
			if manifest.Name != "" {
				payload["name"] = manifest.Name
			}
			if manifest.Description != "" {
				payload["description"] = manifest.Description
			}

			jsonBody, _ := json.Marshal(payload)
			resp, err := http.Post(serverAddr+"/groups", "application/json", bytes.NewBuffer(jsonBody))
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusCreated {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
				return
			}

			var created map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
				fmt.Printf("Error decoding server response: %v\n", err)
				return
			}

			fmt.Printf("Group %q created (id %v)\n", manifest.DisplayName, created["id"])
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Group manifest to apply")
	return cmd
}

// printRecord fetches a single record and prints it as indented JSON.
func printRecord(prefix, id, kind string) {
	resp, err := http.Get(serverAddr + prefix + url.PathEscape(id))
	if err != nil {
		fmt.Printf("Error connecting to server: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		fmt.Printf("%s %q not found\n", kind, id)
		return
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
		return
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		fmt.Printf("Error decoding server response: %v\n", err)
		return
	}
	fmt.Println(out.String())
}

// decodeStageResults accepts both shapes the sync endpoints return: a
// single stage result or an array of them.
func decodeStageResults(body []byte) []map[string]any {
	var many []map[string]any
	if err := json.Unmarshal(body, &many); err == nil {
		return many
	}

	var one map[string]any
	if err := json.Unmarshal(body, &one); err == nil {
		return []map[string]any{one}
	}

	fmt.Printf("Error decoding server response: %s\n", string(body))
	return nil
}

func printStageResult(result map[string]any) {
	if success, _ := result["success"].(bool); !success {
		fmt.Printf("⚠ %v failed: %v\n", result["stage"], result["error"])
		return
	}

	stats, _ := result["stats"].(map[string]any)
	line := fmt.Sprintf("✓ %v: %v fetched, %v inserted, %v updated, %v deleted, %v unchanged",
		result["stage"], stats["fetched"], stats["inserted"], stats["updated"], stats["deleted"], stats["unchanged"])
	if n, _ := stats["skipped"].(float64); n > 0 {
		line += fmt.Sprintf(", %v skipped", stats["skipped"])
	}
	if n, _ := stats["failed"].(float64); n > 0 {
		line += fmt.Sprintf(", %v failed", stats["failed"])
	}
	fmt.Println(line)
}
