package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/InsulaLabs/csmap/config"
	"github.com/InsulaLabs/csmap/mapper"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	addCmd = &cobra.Command{
		Use:   "add",
		Short: "Map a vCD tenant to a Cohesity tenant on an endpoint",
		Args:  cobra.NoArgs,
		RunE:  runAdd,
	}

	removeCmd = &cobra.Command{
		Use:     "remove",
		Aliases: []string{"rm"},
		Short:   "Remove the mapping of a vCD tenant from an endpoint",
		Args:    cobra.NoArgs,
		RunE:    runRemove,
	}

	listCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the tenant mappings of an endpoint",
		Args:    cobra.NoArgs,
		RunE:    runList,
	}

	journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "Show the local journal of metadata changes",
		Args:  cobra.NoArgs,
		RunE:  runJournal,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage csmap configuration files",
	}

	configInitCmd = &cobra.Command{
		Use:   "init <path>",
		Short: "Write a sample configuration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigInit,
	}
)

func init() {
	journalCmd.Flags().StringVar(&opts.operationID, "operation", "", "Only show entries of this operation id")
	journalCmd.Flags().IntVar(&opts.limit, "limit", 50, "Maximum number of entries, 0 for all")
	configCmd.AddCommand(configInitCmd)
}

func dispatchAction(cmd *cobra.Command, action string) error {
	switch strings.ToLower(action) {
	case "add":
		return runAdd(cmd, nil)
	case "remove":
		return runRemove(cmd, nil)
	case "list":
		return runList(cmd, nil)
	}
	return fmt.Errorf("unknown action %q, expected add, remove or list", action)
}

func addRequest() mapper.AddRequest {
	return mapper.AddRequest{
		Credentials:        credentials(),
		EndpointName:       opts.endpoint,
		VcdTenant:          opts.vcdTenant,
		CohesityTenant:     opts.csTenant,
		CohesityUsername:   opts.csUsername,
		CohesityPassword:   opts.csPassword,
		CohesityDomain:     opts.csDomain,
		EncryptionPassword: envOr(opts.encPassword, envEncPassword),
	}
}

func removeRequest() mapper.RemoveRequest {
	return mapper.RemoveRequest{
		Credentials:        credentials(),
		EndpointName:       opts.endpoint,
		VcdTenant:          opts.vcdTenant,
		EncryptionPassword: envOr(opts.encPassword, envEncPassword),
	}
}

func runAdd(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Mapper().Add(rt.Context(), addRequest())
	printResult(res)
	if err != nil {
		return err
	}
	fmt.Printf("%s mapped %s to %s on %s\n", color.GreenString("✓"),
		color.CyanString(opts.vcdTenant), color.CyanString(opts.csTenant), color.CyanString(opts.endpoint))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Mapper().Remove(rt.Context(), removeRequest())
	printResult(res)
	if err != nil {
		return err
	}
	fmt.Printf("%s removed mapping of %s from %s\n", color.GreenString("✓"),
		color.CyanString(opts.vcdTenant), color.CyanString(opts.endpoint))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	encPassword := envOr(opts.encPassword, envEncPassword)

	if opts.all {
		names, err := rt.Mapper().ListAll(rt.Context(), mapper.ListAllRequest{
			Credentials:        credentials(),
			EncryptionPassword: encPassword,
		})
		if err != nil {
			return err
		}
		fmt.Println(renderTenants(names))
		return nil
	}

	pairs, err := rt.Mapper().List(rt.Context(), mapper.ListRequest{
		Credentials:        credentials(),
		EndpointName:       opts.endpoint,
		EncryptionPassword: encPassword,
	})
	if err != nil {
		return err
	}
	fmt.Println(renderPairs(pairs))
	return nil
}

func runJournal(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	j, err := rt.Journal()
	if err != nil {
		return err
	}
	entries, err := j.List(rt.Context(), opts.operationID, opts.limit)
	if err != nil {
		return err
	}
	fmt.Println(renderJournal(entries))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := config.GenerateConfig(args[0]); err != nil {
		return fmt.Errorf("failed to generate configuration: %w", err)
	}
	fmt.Fprintf(os.Stdout, "%s wrote %s\n", color.GreenString("✓"), color.CyanString(args[0]))
	return nil
}

// printResult reports warnings and the publish outcome, even for an
// operation that failed after committing.
func printResult(res *mapper.Result) {
	if res == nil {
		return
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("Warning:"), w)
	}
	if len(res.Published) > 0 {
		names := make([]string, 0, len(res.Published))
		for _, org := range res.Published {
			names = append(names, org.Name)
		}
		fmt.Printf("Extension published to: %s\n", color.CyanString(strings.Join(names, ", ")))
	}
	fmt.Printf("Operation: %s\n", res.OperationID)
}
