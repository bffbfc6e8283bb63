/*
 *
 * inspectd - a debugging broker for JavaScript runtime inspectors
 * Copyright (C) 2026 The inspectd Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Command inspectd runs the debugging broker as a stdio service: one JSON
// request per input line, one JSON response per output line, with session
// notifications interleaved as event lines.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/inspectd/inspectd/common"
	"github.com/inspectd/inspectd/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inspectd",
		Short:         "A debugging broker for JavaScript runtime inspectors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd())
	return root
}

func runCmd() *cobra.Command {
	var (
		logLevel    string
		allowRemote bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve broker commands over stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := common.ConfigFromEnv()
			if err != nil {
				return err
			}
			// Flags win over the environment.
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel.SetValid(logLevel)
			}
			if cmd.Flags().Changed("allow-remote") {
				cfg.AllowRemote.SetValid(allowRemote)
			}

			logger, err := log.NewWithOptions(cfg.LogLevel.String, cfg.LogCategoryFilter.String)
			if err != nil {
				return err
			}
			logger.Log.SetOutput(os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			b := newBroker(ctx, cfg, logger)
			defer b.close()
			return b.serve(os.Stdin, os.Stdout)
		},
	}
	addRunFlags(cmd.Flags(), &logLevel, &allowRemote)
	return cmd
}

func addRunFlags(flags *pflag.FlagSet, logLevel *string, allowRemote *bool) {
	flags.SortFlags = false
	flags.StringVar(logLevel, "log-level", "info", "log level (trace..error)")
	flags.BoolVar(allowRemote, "allow-remote", false, "permit targets outside the host allow-list")
}

// request is one line of stdin.
type request struct {
	ID      int64           `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is one reply line of stdout.
type response struct {
	ID     int64          `json:"id"`
	Result interface{}    `json:"result,omitempty"`
	Error  *responseError `json:"error,omitempty"`
}

type responseError struct {
	Kind    common.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// notification is an unsolicited event line of stdout.
type notification struct {
	Event     string      `json:"event"`
	SessionID string      `json:"sessionId"`
	Params    interface{} `json:"params,omitempty"`
}

type broker struct {
	ctx      context.Context
	registry *common.Registry
	logger   *log.Logger

	outMu sync.Mutex
	out   *json.Encoder
}

func newBroker(ctx context.Context, cfg common.Config, logger *log.Logger) *broker {
	return &broker{
		ctx:      ctx,
		registry: common.NewRegistry(ctx, cfg, logger),
		logger:   logger,
	}
}

func (b *broker) close() {
	b.registry.Close()
}

func (b *broker) serve(in io.Reader, out io.Writer) error {
	b.outMu.Lock()
	b.out = json.NewEncoder(out)
	b.outMu.Unlock()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			b.logger.Warnf("stdio", "dropping malformed request: %s", err)
			continue
		}
		result, err := b.dispatch(req.Command, req.Params)
		b.reply(req.ID, result, err)

		select {
		case <-b.ctx.Done():
			return nil
		default:
		}
	}
	return scanner.Err()
}

func (b *broker) reply(id int64, result interface{}, err error) {
	resp := response{ID: id, Result: result}
	if err != nil {
		kind := common.KindOf(err)
		if kind == "" {
			kind = common.ErrProtocol
		}
		resp.Result = nil
		resp.Error = &responseError{Kind: kind, Message: err.Error()}
	}
	b.writeLine(resp)
}

func (b *broker) notify(sessionID string, ev common.Event) {
	b.writeLine(notification{Event: ev.Type(), SessionID: sessionID, Params: ev.Data()})
}

func (b *broker) writeLine(v interface{}) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if err := b.out.Encode(v); err != nil {
		b.logger.Errorf("stdio", "writing output: %s", err)
	}
}

// sessionParams is the shared shape of every per-session request.
type sessionParams struct {
	SessionID string `json:"sessionId"`
}

func (b *broker) session(raw json.RawMessage) (*common.Session, error) {
	var p sessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, common.NewError(common.ErrInvalidParameters, "decoding params: %s", err)
	}
	return b.registry.Get(p.SessionID)
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return common.NewError(common.ErrInvalidParameters, "decoding params: %s", err)
	}
	return nil
}

func (b *broker) dispatch(command string, raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch command {
	case "connect":
		var p struct {
			URL  string `json:"url"`
			Name string `json:"name,omitempty"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Connect(b.ctx, p.URL, p.Name)
		if err != nil {
			return nil, err
		}
		b.forwardNotifications(sess)
		return sess.Summary(), nil

	case "disconnect":
		var p sessionParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return nil, b.registry.Disconnect(p.SessionID)

	case "list_sessions":
		return b.registry.List(), nil

	case "session_details":
		sess, err := b.session(raw)
		if err != nil {
			return nil, err
		}
		return sess.Details(), nil

	case "set_breakpoint":
		var p struct {
			sessionParams
			URL       string `json:"url"`
			Line      int    `json:"line"`
			Column    *int   `json:"column,omitempty"`
			Condition string `json:"condition,omitempty"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.SetBreakpoint(b.ctx, p.URL, p.Line, p.Column, p.Condition)

	case "remove_breakpoint":
		var p struct {
			sessionParams
			BreakpointID string `json:"breakpointId"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, sess.RemoveBreakpoint(b.ctx, p.BreakpointID)

	case "list_breakpoints":
		sess, err := b.session(raw)
		if err != nil {
			return nil, err
		}
		return sess.ListBreakpoints(), nil

	case "resume":
		sess, err := b.session(raw)
		if err != nil {
			return nil, err
		}
		state, err := sess.Resume(b.ctx)
		if err != nil {
			return nil, err
		}
		return map[string]common.SessionState{"state": state}, nil

	case "pause":
		sess, err := b.session(raw)
		if err != nil {
			return nil, err
		}
		return nil, sess.Pause(b.ctx)

	case "step_over", "step_into", "step_out":
		sess, err := b.session(raw)
		if err != nil {
			return nil, err
		}
		switch command {
		case "step_over":
			err = sess.StepOver(b.ctx)
		case "step_into":
			err = sess.StepInto(b.ctx)
		default:
			err = sess.StepOut(b.ctx)
		}
		return nil, err

	case "get_call_stack":
		var p struct {
			sessionParams
			IncludeAsync *bool `json:"includeAsync,omitempty"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		includeAsync := true
		if p.IncludeAsync != nil {
			includeAsync = *p.IncludeAsync
		}
		return sess.GetCallStack(includeAsync)

	case "get_scope_variables":
		var p struct {
			sessionParams
			CallFrameID string `json:"callFrameId"`
			ScopeIndex  int    `json:"scopeIndex"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.GetScopeVariables(b.ctx, p.CallFrameID, p.ScopeIndex)

	case "set_variable_value":
		var p struct {
			sessionParams
			CallFrameID string `json:"callFrameId"`
			ScopeIndex  int    `json:"scopeIndex"`
			Name        string `json:"name"`
			ValueExpr   string `json:"valueExpression"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, sess.SetVariableValue(b.ctx, p.CallFrameID, p.ScopeIndex, p.Name, p.ValueExpr)

	case "evaluate":
		var p struct {
			sessionParams
			Expression    string `json:"expression"`
			CallFrameID   string `json:"callFrameId,omitempty"`
			ReturnByValue *bool  `json:"returnByValue,omitempty"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		// Global evaluations default to plain values; frame evaluations
		// keep live remote objects so scope inspection can chain off them.
		byValue := p.CallFrameID == ""
		if p.ReturnByValue != nil {
			byValue = *p.ReturnByValue
		}
		return sess.Evaluate(b.ctx, p.Expression, p.CallFrameID, byValue)

	case "set_pause_on_exceptions":
		var p struct {
			sessionParams
			State string `json:"state"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		if err := sess.SetPauseOnExceptions(b.ctx, p.State); err != nil {
			return nil, err
		}
		return map[string]string{"state": p.State}, nil

	case "get_script_source":
		var p struct {
			sessionParams
			ScriptID       string `json:"scriptId"`
			PreferOriginal bool   `json:"preferOriginal,omitempty"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.GetScriptSource(b.ctx, p.ScriptID, p.PreferOriginal)

	case "list_scripts":
		var p struct {
			sessionParams
			IncludeInternal bool `json:"includeInternal,omitempty"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.ListScripts(p.IncludeInternal), nil

	case "get_original_location":
		var p struct {
			sessionParams
			ScriptID string `json:"scriptId"`
			Line     int    `json:"line"`
			Column   int    `json:"column"`
		}
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		sess, err := b.registry.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.GetOriginalLocation(p.ScriptID, p.Line, p.Column)

	default:
		return nil, common.NewError(common.ErrInvalidParameters, "unknown command %q", command)
	}
}

// forwardNotifications streams the session's lifecycle events to stdout
// until the session closes.
func (b *broker) forwardNotifications(sess *common.Session) {
	ch := make(chan common.Event, 16)
	sess.Subscribe(b.ctx, []string{
		common.EventSessionPaused,
		common.EventSessionResumed,
		common.EventSessionScriptParsed,
		common.EventSessionClosed,
	}, ch)
	go func() {
		for {
			select {
			case <-b.ctx.Done():
				return
			case ev := <-ch:
				b.notify(sess.ID(), ev)
				if ev.Type() == common.EventSessionClosed {
					return
				}
			}
		}
	}()
}
