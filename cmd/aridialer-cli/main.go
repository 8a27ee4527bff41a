package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"aridialer/internal/auth"
	"aridialer/internal/dialer"
)

var (
	apiHost string
	secret  string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "aridialer-cli",
		Short: "Control the ARI dialer service",
		Long:  "Command line helper to trigger dialing runs and manage the local ARI dialer service.",
	}

	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://127.0.0.1:3000", "Base URL of the control surface")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("CONTROL_SECRET"), "Control secret for authenticated setups")

	var startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start (or restart) a dialing run",
		Run:   runStart,
	}

	var tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the control surface",
		Run:   runToken,
	}

	var numbersCmd = &cobra.Command{
		Use:   "numbers",
		Short: "Work with number files",
	}
	var numbersValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a number file without dialing",
		Args:  cobra.ExactArgs(1),
		Run:   runNumbersValidate,
	}
	numbersCmd.AddCommand(numbersValidateCmd)

	rootCmd.AddCommand(startCmd, tokenCmd, numbersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) {
	url := apiHost + "/start"

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		fmt.Printf("Error building request: %v\n", err)
		os.Exit(1)
	}
	if secret != "" {
		token, err := auth.GenerateToken(secret, "aridialer-cli")
		if err != nil {
			fmt.Printf("Error minting token: %v\n", err)
			os.Exit(1)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error contacting service: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s: %s", resp.Status, string(body))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func runToken(cmd *cobra.Command, args []string) {
	if secret == "" {
		fmt.Println("Error: --secret (or CONTROL_SECRET) is required")
		os.Exit(1)
	}
	token, err := auth.GenerateToken(secret, "aridialer-cli")
	if err != nil {
		fmt.Printf("Error minting token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func runNumbersValidate(cmd *cobra.Command, args []string) {
	numbers, err := dialer.ValidateNumberFile(args[0])
	if err != nil {
		fmt.Printf("Invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %d valid numbers\n", len(numbers))
}
