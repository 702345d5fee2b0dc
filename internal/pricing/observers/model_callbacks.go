package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/pricewatch/server/pkg/logger"
)

const maxLoggedContent = 300

// newModelHandler builds a typed ModelCallbackHandler that logs oracle calls.
// Image parts are never logged, only counted.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("name", info.Name)
			if input != nil {
				parts := 0
				for _, m := range input.Messages {
					if m != nil {
						parts += len(m.MultiContent)
					}
				}
				ev = ev.Int("messages", len(input.Messages)).Int("parts", parts)
			}
			ev.Msg("oracle call start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("name", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Str("content", clip(output.Message.Content))
			}
			ev.Msg("oracle call end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Str("component", info.Type).Str("name", info.Name).Err(err).Msg("oracle call error")
			return ctx
		},
	}
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLoggedContent {
		return s[:maxLoggedContent] + "..."
	}
	return s
}
