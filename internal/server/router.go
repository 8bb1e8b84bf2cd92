package server

import (
	"context"
	"errors"
	"time"

	"github.com/cowork-ai/cowork/internal/logging"
	"github.com/cowork-ai/cowork/internal/session"
	"github.com/cowork-ai/cowork/pkg/protocol"
	"github.com/cowork-ai/cowork/pkg/types"
)

// route decodes one inbound frame and applies it.
func (s *Server) route(c *client, data []byte) {
	env, payload, err := protocol.DecodeClient(data)
	if err != nil {
		code := protocol.CodeInvalidJSON
		if errors.Is(err, protocol.ErrUnknownType) {
			code = protocol.CodeUnknownType
		}
		c.send(protocol.ServerEvent{
			Type:      protocol.EvError,
			SessionID: env.SessionID,
			Payload: protocol.ErrorPayload{
				Code: code, Source: protocol.SourceProtocol, Message: err.Error(),
			},
		})
		return
	}

	switch msg := payload.(type) {
	case *protocol.ClientHelloMsg:
		s.openSession(c, false)

	case *protocol.SessionOpenMsg:
		if msg.SessionID == "" {
			s.openSession(c, false)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng, err := s.sessions.Resume(ctx, msg.SessionID)
		if err != nil {
			c.send(protocol.ServerEvent{
				Type:      protocol.EvError,
				SessionID: msg.SessionID,
				Payload: protocol.ErrorPayload{
					Code: protocol.CodeValidationFailed, Source: protocol.SourceSession, Message: err.Error(),
				},
			})
			return
		}
		c.attach(eng.ID())
		eng.EmitHello(true)

	case *protocol.SessionCloseMsg:
		s.sessions.Close(env.SessionID)

	case *protocol.UserMessageMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.SendUserMessage(msg.Text, msg.ClientMessageID)
		})

	case *protocol.ResetMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Reset()
		})

	case *protocol.SetModelMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			// Errors surface as session events; nothing more to do here.
			_ = eng.SetModel(msg.Provider, msg.Model)
		})

	case *protocol.AskResponseMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			if err := eng.ResolveAsk(msg.RequestID, msg.Answer); err != nil {
				eng.Emit(protocol.EvError, protocol.ErrorPayload{
					Code: protocol.CodeValidationFailed, Source: protocol.SourceSession, Message: err.Error(),
				})
			}
		})

	case *protocol.ApprovalResponseMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			if err := eng.ResolveApproval(msg.RequestID, msg.Approved); err != nil {
				eng.Emit(protocol.EvError, protocol.ErrorPayload{
					Code: protocol.CodeValidationFailed, Source: protocol.SourceSession, Message: err.Error(),
				})
			}
		})

	case *protocol.ListToolsMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvToolList, protocol.ToolListPayload{Tools: s.toolDescriptors()})
		})

	case *protocol.ListSessionsMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			list, err := s.sessions.List(ctx)
			if err != nil {
				eng.Emit(protocol.EvError, protocol.ErrorPayload{
					Code: protocol.CodeInternalError, Source: protocol.SourceSession, Message: err.Error(),
				})
				return
			}
			eng.Emit(protocol.EvSessionList, protocol.SessionListPayload{Sessions: list})
		})

	case *protocol.ProviderAuthSetAPIKeyMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			err := s.authStore.SetAPIKey(msg.Provider, msg.MethodID, msg.APIKey)
			eng.Emit(protocol.EvProviderAuthResult, protocol.ProviderAuthResultPayload{
				Provider: msg.Provider, MethodID: msg.MethodID,
				OK: err == nil, Message: errMessage(err),
			})
		})

	case *protocol.ProviderAuthAuthorizeMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvProviderAuthChallenge, protocol.ProviderAuthChallengePayload{
				Provider: msg.Provider, MethodID: msg.MethodID,
			})
		})

	case *protocol.ProviderAuthCallbackMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvProviderAuthResult, protocol.ProviderAuthResultPayload{
				Provider: msg.Provider, MethodID: msg.MethodID,
				OK: false, Message: "authorization flows are not supported for this provider",
			})
		})

	case *protocol.ProviderCatalogGetMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvProviderCatalog, protocol.ProviderCatalogPayload{Providers: s.providerCatalog()})
		})

	case *protocol.ProviderAuthMethodsMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvProviderAuthMethods, protocol.ProviderAuthMethodsPayload{Methods: s.authMethods()})
		})

	case *protocol.RefreshProviderStatusMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvProviderStatus, protocol.ProviderStatusPayload{Status: s.providerStatus()})
		})

	case *protocol.HarnessContextGetMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvHarnessContext, protocol.HarnessContextPayload{Context: eng.HarnessContext()})
		})

	case *protocol.HarnessContextSetMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			if err := eng.SetHarnessContext(msg.Context); err != nil {
				eng.Emit(protocol.EvError, protocol.ErrorPayload{
					Code: protocol.CodeValidationFailed, Source: protocol.SourceSession, Message: err.Error(),
				})
				return
			}
			eng.Emit(protocol.EvHarnessContext, protocol.HarnessContextPayload{Context: eng.HarnessContext()})
		})

	case *protocol.HarnessSLOEvaluateMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvHarnessSLOResult, protocol.HarnessSLOResultPayload{Results: eng.EvaluateSLOs()})
		})

	case *protocol.ObservabilityQueryMsg:
		s.withSession(c, env.SessionID, func(eng *session.Engine) {
			eng.Emit(protocol.EvObservabilityQueryResult, protocol.ObservabilityQueryResultPayload{
				Lines: eng.RecentLogs(msg.Limit),
			})
		})
	}
}

// openSession creates a session from server defaults and attaches the
// client.
func (s *Server) openSession(c *client, isResume bool) {
	cfg := types.SessionConfig{
		Provider:         s.cfg.Provider,
		Model:            s.cfg.Model,
		AgentModel:       s.cfg.AgentModel,
		WorkingDirectory: s.cfg.WorkingDirectory,
		OutputDirectory:  s.cfg.OutputDirectory,
		UploadsDirectory: s.cfg.UploadsDirectory,
		EnableMCP:        s.cfg.EnableMCP,
		SystemPrompt:     s.cfg.SystemPrompt,
		MaxSteps:         s.cfg.MaxSteps,
		MaxSpawnDepth:    s.cfg.MaxSpawnDepth,
	}
	if cfg.Model == "" {
		if resolved, err := s.providers.ResolveModel(cfg.Provider, ""); err == nil {
			cfg.Model = resolved
		}
	}

	eng, err := s.sessions.Open(cfg)
	if err != nil {
		c.send(protocol.ServerEvent{
			Type: protocol.EvError,
			Payload: protocol.ErrorPayload{
				Code: protocol.CodeInternalError, Source: protocol.SourceSession, Message: err.Error(),
			},
		})
		return
	}
	c.attach(eng.ID())
	eng.EmitHello(isResume)
	logging.Info().Str("session", eng.ID()).Str("client", c.id).Msg("session opened")
}

// withSession looks up the session or reports validation_failed.
func (s *Server) withSession(c *client, sessionID string, fn func(*session.Engine)) {
	eng := s.sessions.Get(sessionID)
	if eng == nil {
		c.send(protocol.ServerEvent{
			Type:      protocol.EvError,
			SessionID: sessionID,
			Payload: protocol.ErrorPayload{
				Code:    protocol.CodeValidationFailed,
				Source:  protocol.SourceProtocol,
				Message: "unknown session " + sessionID,
			},
		})
		return
	}
	c.attach(sessionID)
	fn(eng)
}

func (s *Server) toolDescriptors() []protocol.ToolDescriptor {
	var out []protocol.ToolDescriptor
	for _, t := range s.tools.List() {
		out = append(out, protocol.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return out
}

func (s *Server) providerCatalog() []protocol.ProviderInfo {
	var out []protocol.ProviderInfo
	for _, p := range s.providers.List() {
		out = append(out, protocol.ProviderInfo{ID: p.ID(), Name: p.Name(), Models: p.Models()})
	}
	return out
}

func (s *Server) authMethods() []protocol.AuthMethod {
	var out []protocol.AuthMethod
	for _, p := range s.providers.List() {
		out = append(out, protocol.AuthMethod{
			Provider: p.ID(), MethodID: "api_key", Kind: "api_key",
			Label: p.Name() + " API key",
		})
	}
	return out
}

func (s *Server) providerStatus() map[string]bool {
	status := map[string]bool{}
	for _, p := range s.providers.List() {
		_, hasStored := s.authStore.Get(p.ID())
		status[p.ID()] = hasStored || s.cfg.APIKeys[p.ID()] != ""
	}
	return status
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
