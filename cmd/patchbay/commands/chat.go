package commands

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/pipeline"
	"github.com/dyluth/patchbay/internal/printer"
)

// parseChatLine splits "<user> <message>". Returns false for blank lines or
// lines without a message.
func parseChatLine(line string) (user, text string, ok bool) {
	user, text, found := strings.Cut(strings.TrimSpace(line), " ")
	text = strings.TrimSpace(text)
	if !found || user == "" || text == "" {
		return "", "", false
	}
	return user, text, true
}

// readChat feeds chat lines from r into the pipeline until EOF or ctx ends.
// Only admin console results are echoed; rejected commands get no feedback.
func readChat(ctx context.Context, r io.Reader, channel string, cfg *config.Config, p *pipeline.Pipeline) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		user, text, ok := parseChatLine(scanner.Text())
		if !ok {
			continue
		}

		out := p.HandleMessage(ctx, pipeline.Message{
			User:    user,
			Channel: channel,
			Text:    text,
			IsAdmin: cfg.IsAdmin(user),
		})
		if out.Admin != nil {
			reportAdmin(out.Admin)
		}
	}
	return scanner.Err()
}

func reportAdmin(res *pipeline.AdminResult) {
	if res.Err != nil {
		printer.Warning("%s\n", res.Message)
		return
	}
	printer.Success("%s\n", res.Message)

	if len(res.Routes) > 0 {
		rows := make([][]string, 0, len(res.Routes))
		for _, r := range res.Routes {
			rows = append(rows, []string{r.Output, r.Variable})
		}
		printer.Table([]string{"OUTPUT", "VARIABLE"}, rows)
	}
}
