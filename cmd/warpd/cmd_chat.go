// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/chat"
	"github.com/teradata-labs/warp/pkg/workflow"
)

var (
	chatUser         string
	chatConversation string
	chatTemplate     string
	chatProvider     string
	chatModel        string
	chatStream       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Run one chat turn against the local engine",
	Long: `Run a single chat turn without starting the server.

The message is sent through the full orchestration pipeline: conversation
persistence, workflow build, provider call, and metrics. Useful for smoke
testing a configuration before exposing it over HTTP.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "user id for the turn")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "existing conversation id (empty starts a new one)")
	chatCmd.Flags().StringVar(&chatTemplate, "template", "", "workflow template name")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "provider override for this turn")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model override for this turn")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "stream tokens as they arrive")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) {
	logger, err := buildLogger(config.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	svc, cleanup, err := buildServices(&config, logger)
	if err != nil {
		logger.Fatal("Startup failed", zap.Error(err))
	}
	defer cleanup()

	req := chat.ChatRequest{
		UserID:         chatUser,
		ConversationID: chatConversation,
		Message:        strings.Join(args, " "),
		Template:       chatTemplate,
		Provider:       chatProvider,
		Model:          chatModel,
	}

	ctx := context.Background()
	if chatStream {
		streamChat(ctx, svc, req)
		return
	}

	resp, err := svc.orch.Chat(ctx, req)
	if err != nil {
		logger.Fatal("Chat failed", zap.Error(err))
	}
	fmt.Println(resp.Content)
	fmt.Fprintf(os.Stderr, "conversation=%s tokens=%d cost=%.6f\n",
		resp.ConversationID, resp.Usage.TotalTokens, resp.Usage.Cost)
}

func streamChat(ctx context.Context, svc *services, req chat.ChatRequest) {
	events, err := svc.orch.ChatStream(ctx, req)
	if err != nil {
		log.Fatalf("Chat failed: %v", err)
	}
	for ev := range events {
		switch ev.Type {
		case workflow.EventToken:
			fmt.Print(ev.Content)
		case workflow.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Content)
		case workflow.EventEnd:
			fmt.Println()
		}
	}
}
