package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeffasante/kv-store/src/client"
)

func addBackupCmd() *cobra.Command {
	var primaryAddr, backupAddr string

	cmd := &cobra.Command{
		Use:   "add-backup",
		Short: "Register a backup with a primary",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := client.New(primaryAddr).Send("ADD_BACKUP " + backupAddr)
			exitOnErr(err)
			fmt.Println(resp)
		},
	}
	cmd.Flags().StringVar(&primaryAddr, "primary", "", "primary address")
	cmd.Flags().StringVar(&backupAddr, "backup", "", "backup address to register")
	cmd.MarkFlagRequired("primary")
	cmd.MarkFlagRequired("backup")
	return cmd
}

func promoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <address>",
		Short: "Promote a backup to primary",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := client.New(args[0]).Send("PROMOTE")
			exitOnErr(err)
			fmt.Println(resp)
		},
	}
}

func getCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a value",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			value, ok, err := client.New(addr).Get(args[0])
			exitOnErr(err)
			if !ok {
				fmt.Fprintf(os.Stderr, "Key not found: %s\n", args[0])
				os.Exit(1)
			}
			fmt.Println(value)
		},
	}
	addNodeFlag(cmd, &addr)
	return cmd
}

func putCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a value",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			exitOnErr(client.New(addr).Put(args[0], args[1]))
			fmt.Println("OK")
		},
	}
	addNodeFlag(cmd, &addr)
	return cmd
}

func deleteCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			existed, err := client.New(addr).Delete(args[0])
			exitOnErr(err)
			if !existed {
				fmt.Fprintf(os.Stderr, "Key not found: %s\n", args[0])
				os.Exit(1)
			}
			fmt.Println("OK")
		},
	}
	addNodeFlag(cmd, &addr)
	return cmd
}

func keysCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List all keys",
		Run: func(cmd *cobra.Command, args []string) {
			keys, err := client.New(addr).Keys()
			exitOnErr(err)
			for _, key := range keys {
				fmt.Println(key)
			}
		},
	}
	addNodeFlag(cmd, &addr)
	return cmd
}

func addNodeFlag(cmd *cobra.Command, addr *string) {
	cmd.Flags().StringVarP(addr, "address", "a", "127.0.0.1:7000", "node address")
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
