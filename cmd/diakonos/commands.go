package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tim-br/diakonos/internal/ipc"
)

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, statusCmd, listCmd, daemonStatusCmd, killCmd, watchCmd)
}

func sendOne(kind ipc.RequestKind, service string) (ipc.Response, error) {
	client, err := dial()
	if err != nil {
		return ipc.Response{}, err
	}
	defer client.Close()
	return client.Send(ipc.Request{Kind: kind, Service: service})
}

func printLifecycleResult(action, service string, resp ipc.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.Kind == ipc.RespError {
		return fmt.Errorf("%s %s: %s", action, service, resp.Message)
	}
	fmt.Println(resp.Message)
	return nil
}

var startCmd = &cobra.Command{
	Use:   "start <service>",
	Short: "Start a service and its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendOne(ipc.ReqStart, args[0])
		return printLifecycleResult("start", args[0], resp, err)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <service>",
	Short: "Stop a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendOne(ipc.ReqStop, args[0])
		return printLifecycleResult("stop", args[0], resp, err)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <service>",
	Short: "Restart a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendOne(ipc.ReqRestart, args[0])
		return printLifecycleResult("restart", args[0], resp, err)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <service>",
	Short: "Show the state of one service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendOne(ipc.ReqStatus, args[0])
		if err != nil {
			return err
		}
		if resp.Kind == ipc.RespError {
			return fmt.Errorf("status %s: %s", args[0], resp.Message)
		}
		return printStatus(cmd, resp)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every loaded service and its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dial()
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Send(ipc.Request{Kind: ipc.ReqList})
		if err != nil {
			return err
		}
		if resp.Kind == ipc.RespError {
			return fmt.Errorf("list: %s", resp.Message)
		}
		return printServiceList(cmd, resp.Services)
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "daemon-status",
	Short: "Report whether the daemon is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := daemonConfig()
		if !isDaemonRunning(cfg) {
			fmt.Println("daemon is not running")
			return nil
		}

		client, err := ipc.Dial(cfg.SocketPath)
		if err != nil {
			fmt.Println("daemon pid file present but control socket is unreachable")
			return nil
		}
		defer client.Close()

		resp, err := client.Send(ipc.Request{Kind: ipc.ReqPing})
		if err != nil || resp.Kind != ipc.RespPong {
			fmt.Println("daemon pid file present but did not respond to ping")
			return nil
		}
		fmt.Println("daemon is running")
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Shut down the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := daemonConfig()
		client, err := ipc.Dial(cfg.SocketPath)
		if err != nil {
			return fmt.Errorf("connecting to daemon: %w (is diakonosd running?)", err)
		}
		defer client.Close()

		resp, err := client.Send(ipc.Request{Kind: ipc.ReqShutdown})
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}
