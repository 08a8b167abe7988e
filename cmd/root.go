////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/tessera/chatsync/conversation"
	"gitlab.com/tessera/chatsync/stoppable"
	"gitlab.com/tessera/chatsync/storage/versioned"
	"gitlab.com/tessera/chatsync/transport"
)

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Opens a synchronized view of one conversation",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("profile-cpu") {
			defer profile.Start(profile.CPUProfile).Stop()
		}

		initLog(viper.GetUint("logLevel"), viper.GetString("log"))

		store, err := ekv.NewFilestore(
			viper.GetString("session"), viper.GetString("password"))
		if err != nil {
			jww.FATAL.Panicf("Failed to open session store: %+v", err)
		}
		kv := versioned.NewKV(store)

		server := viper.GetString("server")
		token := viper.GetString("token")
		rest := transport.NewRestClient(server, token)
		ws := transport.NewWSClient(server, token)

		var stoppables []stoppable.Stoppable

		dialCtx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second)
		wsStop, err := ws.Connect(dialCtx)
		cancel()
		if err != nil {
			jww.WARN.Printf("Event channel unavailable, using the request "+
				"path: %+v", err)
		} else {
			stoppables = append(stoppables, wsStop)
		}

		params := conversation.DefaultParams()
		params.ConversationID = viper.GetString("conversation")
		params.UserID = viper.GetString("user")
		params.PageSize = viper.GetInt("page-size")

		manager := conversation.NewManager(params, kv, ws, rest, rest, nil)
		mgrStop, err := manager.StartProcesses()
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		stoppables = append(stoppables, mgrStop)

		if err = manager.Open(context.Background()); err != nil {
			jww.FATAL.Panicf("Failed to open conversation: %+v", err)
		}
		render(manager, params.UserID)

		runInputLoop(manager)

		if err = manager.Close(); err != nil {
			jww.ERROR.Printf("%+v", err)
		}
		for _, s := range stoppables {
			if err = s.Close(); err != nil {
				jww.ERROR.Printf("%+v", err)
			}
			stoppable.WaitForStopped(s, 10*time.Second)
		}
	},
}

// runInputLoop reads user commands from stdin until /quit or EOF.
func runInputLoop(manager *conversation.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case line == "/older":
			more, err := manager.LoadOlder(context.Background())
			if err != nil {
				fmt.Printf("load older failed: %v\n", err)
				continue
			}
			render(manager, viper.GetString("user"))
			if !more {
				fmt.Println("-- beginning of history --")
			}

		case strings.HasPrefix(line, "/react "):
			fields := strings.Fields(line)
			if len(fields) != 3 {
				fmt.Println("usage: /react <messageID> <emoji>")
				continue
			}
			msgID, err := parseMessageID(fields[1])
			if err != nil {
				fmt.Printf("%v\n", err)
				continue
			}
			err = manager.ToggleReaction(
				context.Background(), msgID, fields[2])
			if err != nil {
				fmt.Printf("reaction failed: %v\n", err)
				continue
			}
			render(manager, viper.GetString("user"))

		case strings.HasPrefix(line, "/read "):
			msgID, err := parseMessageID(strings.TrimPrefix(line, "/read "))
			if err != nil {
				fmt.Printf("%v\n", err)
				continue
			}
			err = manager.MarkReadUpTo(context.Background(), msgID)
			if err != nil {
				fmt.Printf("read mark failed: %v\n", err)
			}

		case strings.HasPrefix(line, "/discard "):
			tempID := strings.TrimPrefix(line, "/discard ")
			if err := manager.DiscardFailed(tempID); err != nil {
				fmt.Printf("discard failed: %v\n", err)
				continue
			}
			render(manager, viper.GetString("user"))

		default:
			_, err := manager.Send(context.Background(),
				conversation.SendPayload{Content: line})
			if err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
			render(manager, viper.GetString("user"))
		}
	}
}

// render prints the merged view of the conversation.
func render(manager *conversation.Manager, userID string) {
	msgs := manager.Messages()
	for _, m := range msgs {
		marker := " "
		switch m.Status {
		case conversation.Pending:
			marker = "…"
		case conversation.Failed:
			marker = "!"
		}

		body := m.Content
		if m.Deleted {
			body = "(recalled)"
		}

		reactions := ""
		for kind, users := range m.Reactions {
			reactions += fmt.Sprintf(" [%s x%d]", kind, len(users))
		}

		fmt.Printf("%s %s %s: %s%s\n", marker,
			m.CreatedAt.Format("15:04:05"), m.SenderID, body, reactions)
	}

	if rs, ok := manager.LastRead(userID); ok {
		fmt.Printf("-- read up to message %s --\n", rs.LastRead)
	}
}

func parseMessageID(s string) (conversation.MessageID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid message ID %q", s)
	}
	return conversation.MessageID(n), nil
}

// init is the initialization function for Cobra which defines flags.
func init() {
	rootCmd.PersistentFlags().UintP("logLevel", "v", 0,
		"Verbose mode for debugging")
	viperBind("logLevel")

	rootCmd.PersistentFlags().StringP("log", "l", "-",
		"Path to the log output path (- is stdout)")
	viperBind("log")

	rootCmd.PersistentFlags().StringP("session", "s", "",
		"Sets the initial storage directory for client session data")
	viperBind("session")

	rootCmd.PersistentFlags().StringP("password", "p", "",
		"Password to the session file")
	viperBind("password")

	rootCmd.PersistentFlags().String("server", "http://localhost:8080",
		"Base URL of the chat server")
	viperBind("server")

	rootCmd.PersistentFlags().String("token", "",
		"Bearer token for the chat server")
	viperBind("token")

	rootCmd.PersistentFlags().StringP("user", "u", "",
		"ID of the local user")
	viperBind("user")

	rootCmd.PersistentFlags().StringP("conversation", "c", "",
		"ID of the conversation to open")
	viperBind("conversation")

	rootCmd.PersistentFlags().Int("page-size", 50,
		"Number of messages per history page")
	viperBind("page-size")

	rootCmd.PersistentFlags().Bool("profile-cpu", false,
		"Enable CPU profiling")
	viperBind("profile-cpu")
}

func viperBind(key string) {
	if err := viper.BindPFlag(
		key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
		panic(err)
	}
}

// initLog initializes logging thresholds and the log path.
func initLog(threshold uint, logPath string) {
	if logPath != "-" && logPath != "" {
		// Disable stdout output
		jww.SetStdoutOutput(ioutil.Discard)
		// Use log file
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err.Error())
		}
		jww.SetLogOutput(logOutput)
	}

	if threshold > 1 {
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
		jww.INFO.Printf("log level set to: TRACE")
	} else if threshold == 1 {
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
		jww.INFO.Printf("log level set to: DEBUG")
	} else {
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
		jww.INFO.Printf("log level set to: INFO")
	}
}
