package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/upb/ai-gateway/services/providers"
)

var chatOpts struct {
	provider    string
	model       string
	system      string
	temperature float64
	maxTokens   int
	noStream    bool
	showUsage   bool
}

var chatCmd = &cobra.Command{
	Use:   "chat [flags] <message>",
	Short: "Send one chat request using credentials from the environment",
	Example: `  OPENAI_API_KEY=sk-... api-gateway chat -p openai -m gpt-4o-mini "Say hello"
  BAIDU_API_KEY=... BAIDU_SECRET_KEY=... api-gateway chat -p baidu -m ernie-4.0-8k "你好"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	f := chatCmd.Flags()
	f.StringVarP(&chatOpts.provider, "provider", "p", "", "provider id (see the providers command)")
	f.StringVarP(&chatOpts.model, "model", "m", "", "model id")
	f.StringVarP(&chatOpts.system, "system", "s", "", "optional system prompt")
	f.Float64Var(&chatOpts.temperature, "temperature", -1, "sampling temperature, negative keeps the vendor default")
	f.IntVar(&chatOpts.maxTokens, "max-tokens", 0, "completion token limit, 0 keeps the vendor default")
	f.BoolVar(&chatOpts.noStream, "no-stream", false, "wait for the full response instead of streaming chunks")
	f.BoolVar(&chatOpts.showUsage, "usage", false, "print token usage and cost after the response")
	_ = chatCmd.MarkFlagRequired("provider")
	_ = chatCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(chatCmd)
}

// buildChatRequest turns the flags and positional message into a request
func buildChatRequest(args []string) *providers.ChatRequest {
	req := &providers.ChatRequest{
		Provider: chatOpts.provider,
		Model:    chatOpts.model,
		Options: providers.ChatOptions{
			MaxTokens: chatOpts.maxTokens,
			Stream:    !chatOpts.noStream,
		},
	}
	if chatOpts.temperature >= 0 {
		temp := chatOpts.temperature
		req.Options.Temperature = &temp
	}
	if chatOpts.system != "" {
		req.Messages = append(req.Messages, providers.Message{Role: providers.RoleSystem, Content: chatOpts.system})
	}
	req.Messages = append(req.Messages, providers.Message{Role: providers.RoleUser, Content: strings.Join(args, " ")})
	return req
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := bootstrap(ctx, "warn")
	if err != nil {
		return err
	}
	defer deps.Close(ctx)

	out := cmd.OutOrStdout()
	req := buildChatRequest(args)

	var summary *providers.ChatResponse
	if chatOpts.noStream {
		summary, err = deps.Gateway.Chat(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, summary.Content)
	} else {
		stream, err := deps.Gateway.ChatStream(ctx, req)
		if err != nil {
			return err
		}
		defer stream.Close()

		for stream.Next() {
			fmt.Fprint(out, stream.Chunk())
		}
		fmt.Fprintln(out)
		if err := stream.Err(); err != nil {
			return err
		}
		summary = stream.Summary()
		if summary == nil {
			return errors.New("stream ended without a summary")
		}
	}

	if chatOpts.showUsage {
		fmt.Fprintf(cmd.ErrOrStderr(), "model=%s tokens=%d/%d/%d cost=%.6f duration=%dms\n",
			summary.Model,
			summary.Usage.PromptTokens,
			summary.Usage.CompletionTokens,
			summary.Usage.TotalTokens,
			summary.Cost,
			summary.DurationMs)
	}
	return nil
}
