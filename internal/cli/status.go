package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusAddr  string
	statusToken string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running gateway's pool status",
	Run: func(cmd *cobra.Command, args []string) {
		runStatus()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "Gateway base URL")
	statusCmd.Flags().StringVar(&statusToken, "token", os.Getenv("WARDEN_AUTH_TOKEN"), "Auth token")
	RootCmd.AddCommand(statusCmd)
}

func runStatus() {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, statusAddr+"/v1/status", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build request:", err)
		os.Exit(1)
	}
	if statusToken != "" {
		req.Header.Set("X-Auth-Token", statusToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintln(os.Stderr, "decode response:", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(body, "", "  ")
	fmt.Println(string(out))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
