package signal

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// shutdownGrace is how long Close waits for signal-cli to exit after
// its stdin is closed before killing it.
const shutdownGrace = 5 * time.Second

// Client drives a signal-cli jsonRpc subprocess.
type Client struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd    *exec.Cmd
	conn   *rpcConn
	exited chan error
}

// NewClient creates a client. Start launches the subprocess.
func NewClient(command string, args []string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		command: command,
		args:    args,
		logger:  logger,
		exited:  make(chan error, 1),
	}
}

// Start launches signal-cli and begins reading its output. It must be
// called once, before any other method.
func (c *Client) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("signal-cli stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.command, err)
	}
	c.cmd = cmd
	c.conn = newRPCConn(stdin, stdout, c.logger)

	go c.logStderr(stderr)
	go func() {
		err := cmd.Wait()
		if err != nil {
			c.logger.Error("signal-cli exited", "error", err)
		} else {
			c.logger.Info("signal-cli exited")
		}
		c.exited <- err
	}()

	c.logger.Info("signal-cli started", "command", c.command, "args", c.args, "pid", cmd.Process.Pid)
	return nil
}

// Messages delivers inbound data-message envelopes. It is closed when
// signal-cli exits.
func (c *Client) Messages() <-chan *Envelope {
	return c.conn.envelopes
}

// Done is closed when signal-cli's output ends.
func (c *Client) Done() <-chan struct{} {
	return c.conn.done
}

// Send sends a text message and returns its timestamp, which
// identifies the message for later edits.
func (c *Client) Send(ctx context.Context, recipient, message string) (int64, error) {
	return c.send(ctx, "send", map[string]any{
		"recipient": []string{recipient},
		"message":   message,
	})
}

// Edit replaces the text of a message previously sent at
// targetTimestamp. Repeated edits keep targeting the original
// timestamp.
func (c *Client) Edit(ctx context.Context, recipient string, targetTimestamp int64, message string) (int64, error) {
	return c.send(ctx, "edit", map[string]any{
		"recipient":     []string{recipient},
		"message":       message,
		"editTimestamp": targetTimestamp,
	})
}

// SendAttachment sends data as a file attachment with no text.
func (c *Client) SendAttachment(ctx context.Context, recipient string, data []byte, mimeType, filename string) (int64, error) {
	return c.send(ctx, "attachment", map[string]any{
		"recipient":   []string{recipient},
		"attachments": []string{dataURI(data, mimeType, filename)},
	})
}

func (c *Client) send(ctx context.Context, op string, params map[string]any) (int64, error) {
	raw, err := c.conn.call(ctx, "send", params)
	if err != nil {
		return 0, fmt.Errorf("signal %s: %w", op, err)
	}
	var res sendResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("signal %s: decode result: %w", op, err)
	}
	return res.Timestamp, nil
}

// dataURI encodes an attachment in the form signal-cli accepts inline.
func dataURI(data []byte, mimeType, filename string) string {
	return fmt.Sprintf("data:%s;filename=%s;base64,%s", mimeType, filename, base64.StdEncoding.EncodeToString(data))
}

// SendReceipt marks the message at timestamp as read.
func (c *Client) SendReceipt(ctx context.Context, recipient string, timestamp int64) error {
	_, err := c.conn.call(ctx, "sendReceipt", map[string]any{
		"recipient":       recipient,
		"targetTimestamp": timestamp,
		"type":            "read",
	})
	if err != nil {
		return fmt.Errorf("signal receipt: %w", err)
	}
	return nil
}

// SendTyping starts or stops the typing indicator.
func (c *Client) SendTyping(ctx context.Context, recipient string, stop bool) error {
	params := map[string]any{"recipient": recipient}
	if stop {
		params["stop"] = true
	}
	if _, err := c.conn.call(ctx, "sendTyping", params); err != nil {
		return fmt.Errorf("signal typing: %w", err)
	}
	return nil
}

// Ping checks that signal-cli answers requests.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.conn.call(ctx, "version", nil)
	return err
}

// StartLink begins linking signal-cli as a secondary device and returns
// the sgnl:// URI to scan from the primary phone. signal-cli must run
// without an account for this.
func (c *Client) StartLink(ctx context.Context) (string, error) {
	raw, err := c.conn.call(ctx, "startLink", nil)
	if err != nil {
		return "", fmt.Errorf("signal startLink: %w", err)
	}
	var res startLinkResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("signal startLink: decode result: %w", err)
	}
	if res.DeviceLinkURI == "" {
		return "", fmt.Errorf("signal startLink: empty device link URI")
	}
	return res.DeviceLinkURI, nil
}

// FinishLink waits for the primary device to approve uri and returns
// the linked account's number.
func (c *Client) FinishLink(ctx context.Context, uri, deviceName string) (string, error) {
	raw, err := c.conn.call(ctx, "finishLink", map[string]any{
		"deviceLinkUri": uri,
		"deviceName":    deviceName,
	})
	if err != nil {
		return "", fmt.Errorf("signal finishLink: %w", err)
	}
	var res finishLinkResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("signal finishLink: decode result: %w", err)
	}
	return res.Number, nil
}

// Close closes signal-cli's stdin and waits for it to exit, killing it
// after shutdownGrace.
func (c *Client) Close() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	_ = c.conn.close()

	select {
	case err := <-c.exited:
		return err
	case <-time.After(shutdownGrace):
		c.logger.Warn("signal-cli did not exit, killing", "pid", c.cmd.Process.Pid)
		_ = c.cmd.Process.Kill()
		<-c.exited
		return nil
	}
}

func (c *Client) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		c.logger.Debug("signal-cli stderr", "line", sc.Text())
	}
}
