package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ceyewan/fnportal/broadcast"
	"github.com/ceyewan/fnportal/portal"
	"github.com/ceyewan/fnportal/xerrors"
)

func functionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "functions",
		Aliases: []string{"fn"},
		Short:   "Manage functions of the site",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fns, err := a.client.ListFunctions(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), fns)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tTRIGGER\tDISABLED")
				for _, fi := range fns {
					fmt.Fprintf(w, "%s\t%s\t%t\n", fi.Name, triggerType(fi), fi.Config != nil && fi.Config.Disabled)
				}
				return w.Flush()
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := findFunction(ctx, a.client, args[0])
				if err != nil {
					return err
				}
				latest, err := a.client.GetFunction(ctx, fi)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), latest)
			})
		},
	}

	var templateID string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a function from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := a.client.CreateFunction(ctx, args[0], templateID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Function %s created\n", fi.Name)
				return nil
			})
		},
	}
	create.Flags().StringVarP(&templateID, "template", "t", "Empty", "Template ID")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := findFunction(ctx, a.client, args[0])
				if err != nil {
					return err
				}
				if err := a.client.DeleteFunction(ctx, fi); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Function %s deleted\n", fi.Name)
				return nil
			})
		},
	}

	errs := &cobra.Command{
		Use:   "errors <name>",
		Short: "Show errors the runtime recorded for a function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := findFunction(ctx, a.client, args[0])
				if err != nil {
					return err
				}
				return printLines(cmd.OutOrStdout(), a.client.GetFunctionErrors(ctx, fi))
			})
		},
	}

	cmd.AddCommand(list, get, create, del, errs)
	return cmd
}

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Read and write files through the site's virtual file system",
	}

	ls := &cobra.Command{
		Use:   "ls <href>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				objs, err := a.client.ListFiles(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), objs)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
				for _, o := range objs {
					fmt.Fprintf(w, "%s\t%d\t%s\n", o.Name, o.Size, o.Mtime.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}

	cat := &cobra.Command{
		Use:   "cat <href>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				content, err := a.client.GetFileContent(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), content)
				return err
			})
		},
	}

	var source string
	put := &cobra.Command{
		Use:   "put <href>",
		Short: "Upload a file, reading stdin when --from is not given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readSource(cmd.InOrStdin(), source)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.client.SaveFile(ctx, args[0], content)
			})
		},
	}
	put.Flags().StringVar(&source, "from", "", "Local file to upload")

	rm := &cobra.Command{
		Use:   "rm <href>",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.client.DeleteFile(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(ls, cat, put, rm)
	return cmd
}

func keysCmd() *cobra.Command {
	var function string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage host and function keys",
	}
	cmd.PersistentFlags().StringVarP(&function, "function", "f", "", "Function name, host keys when empty")

	// target 把 --function 解析为函数，未指定时返回 nil 表示宿主
	target := func(ctx context.Context, a *app) (*portal.FunctionInfo, error) {
		if function == "" {
			return nil, nil
		}
		fi, err := findFunction(ctx, a.client, function)
		if err != nil {
			return nil, err
		}
		return &fi, nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := target(ctx, a)
				if err != nil {
					return err
				}
				var keys portal.FunctionKeys
				if fi == nil {
					keys, err = a.client.GetHostKeys(ctx)
				} else {
					keys, err = a.client.GetFunctionKeys(ctx, *fi)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), keys.Keys)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tVALUE")
				for _, k := range keys.Keys {
					fmt.Fprintf(w, "%s\t%s\n", k.Name, k.Value)
				}
				return w.Flush()
			})
		},
	}

	var value string
	create := &cobra.Command{
		Use:   "create <key>",
		Short: "Create a key, generated by the runtime when --value is empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := target(ctx, a)
				if err != nil {
					return err
				}
				key, err := a.client.CreateKey(ctx, args[0], value, fi)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), key)
			})
		},
	}
	create.Flags().StringVar(&value, "value", "", "Key value")

	renew := &cobra.Command{
		Use:   "renew <key>",
		Short: "Regenerate a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := target(ctx, a)
				if err != nil {
					return err
				}
				key, err := a.client.RenewKey(ctx, args[0], fi)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), key)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := target(ctx, a)
				if err != nil {
					return err
				}
				return a.client.DeleteKey(ctx, args[0], fi)
			})
		},
	}

	cmd.AddCommand(list, create, renew, del)
	return cmd
}

func hostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Inspect the functions host",
	}

	errs := &cobra.Command{
		Use:   "errors",
		Short: "Wait for the host to start and print its startup errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.client.GetMasterKey(ctx); err != nil {
					return err
				}
				startup, err := a.client.GetHostErrors(ctx)
				if err != nil {
					return err
				}
				return printLines(cmd.OutOrStdout(), startup)
			})
		},
	}

	id := &cobra.Command{
		Use:   "id",
		Short: "Print the host id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.client.GetMasterKey(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.client.GetHostID(ctx))
				return nil
			})
		},
	}

	config := &cobra.Command{
		Use:   "config",
		Short: "Print host.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				hostJSON, err := a.client.GetHostJSON(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), hostJSON)
			})
		},
	}

	runtime := &cobra.Command{
		Use:   "runtime",
		Short: "Print the latest runtime version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				v, err := a.client.GetLatestRuntime(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	cmd.AddCommand(errs, id, config, runtime)
	return cmd
}

func runCmd() *cobra.Command {
	var (
		input   string
		rawURL  string
		method  string
		headers []string
		queries []string
	)

	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a function, calling the HTTP trigger directly when --url is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hs, err := parsePairs(headers, ":")
			if err != nil {
				return err
			}
			qs, err := parsePairs(queries, "=")
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fi, err := findFunction(ctx, a.client, args[0])
				if err != nil {
					return err
				}
				if rawURL == "" {
					if _, err := a.client.GetMasterKey(ctx); err != nil {
						return err
					}
				}

				var res portal.RunResult
				if rawURL != "" {
					res, err = a.client.RunHTTPFunction(ctx, fi, rawURL, portal.HTTPRunModel{
						Method:            method,
						Body:              input,
						Headers:           hs,
						QueryStringParams: qs,
					})
				} else {
					res, err = a.client.RunFunction(ctx, fi, input)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%d %s\n", res.StatusCode, res.StatusText)
				_, err = io.WriteString(cmd.OutOrStdout(), res.Content)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&input, "data", "d", "", "Request body or function input")
	cmd.Flags().StringVar(&rawURL, "url", "", "Invoke URL of an HTTP triggered function")
	cmd.Flags().StringVarP(&method, "method", "X", "POST", "HTTP method when --url is set")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header (Name: value)")
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "Query or route parameter (name=value)")
	return cmd
}

func templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "Print function templates for the configured runtime version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				templates, err := a.client.GetTemplates(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), templates)
			})
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached results",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all cached results, across instances in distributed mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.client.ClearAllCachedData(ctx)
			})
		},
	})
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the Redis and NATS connections portalctl is configured with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rows := a.checkConnections(ctx)
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no external connections configured")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ROLE\tNAME\tHEALTHY\tERROR")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.Role, r.Name, r.Healthy, r.Error)
				}
				return w.Flush()
			})
		},
	}
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Observe error events published by other portalctl processes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print error events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, true, func(ctx context.Context, a *app) error {
				if a.nats == nil {
					return xerrors.Invalidf("nats.url is not configured")
				}
				subject := a.cfg.Events.Subject
				out := cmd.OutOrStdout()
				unsub, err := broadcast.SubscribeNATS(a.nats.GetClient(), subject,
					func(_ context.Context, e broadcast.Event) { printEvent(out, e) },
					broadcast.WithLogger(a.logger))
				if err != nil {
					return err
				}
				defer func() { _ = unsub() }()

				fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", subject)
				<-ctx.Done()
				return nil
			})
		},
	})
	return cmd
}

// findFunction 按名称在函数列表中查找，大小写不敏感
func findFunction(ctx context.Context, c *portal.Client, name string) (portal.FunctionInfo, error) {
	fns, err := c.ListFunctions(ctx)
	if err != nil {
		return portal.FunctionInfo{}, err
	}
	for _, fi := range fns {
		if strings.EqualFold(fi.Name, name) {
			return fi, nil
		}
	}
	return portal.FunctionInfo{}, xerrors.Wrapf(xerrors.ErrNotFound, "function %s", name)
}

func triggerType(fi portal.FunctionInfo) string {
	if fi.Config == nil {
		return "-"
	}
	for _, b := range fi.Config.Bindings {
		if strings.HasSuffix(b.Type, "Trigger") {
			return b.Type
		}
	}
	return "-"
}

// parsePairs 解析 "name<sep>value" 形式的参数
func parsePairs(raw []string, sep string) ([]portal.NameValue, error) {
	pairs := make([]portal.NameValue, 0, len(raw))
	for _, r := range raw {
		name, value, ok := strings.Cut(r, sep)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, xerrors.Invalidf("malformed pair %q, expected name%svalue", r, sep)
		}
		pairs = append(pairs, portal.NameValue{Name: name, Value: strings.TrimSpace(value)})
	}
	return pairs, nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", xerrors.Wrapf(err, "read %s", path)
	}
	return string(data), nil
}
