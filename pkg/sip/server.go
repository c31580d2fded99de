package sip

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/version"
)

// Server binds a Phone to the network through sipgo
type Server struct {
	logger *logrus.Entry
	cfg    config.SIPConfig
	phone  *Phone

	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	client   *sipgo.Client
	inbound  *sipgo.DialogServerCache
	outbound *sipgo.DialogClientCache
}

// NewServer creates the user agent and registers the request handlers. The
// phone is given a dialer that places calls through the same agent.
func NewServer(logger *logrus.Logger, cfg config.SIPConfig, phone *Phone) (*Server, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(version.UserAgent()))
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create SIP server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(phone.mediaIP))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create SIP client: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{User: cfg.User, Host: phone.mediaIP, Port: cfg.Port},
	}

	s := &Server{
		logger:   logger.WithField("component", "sip"),
		cfg:      cfg,
		phone:    phone,
		ua:       ua,
		srv:      srv,
		client:   client,
		inbound:  sipgo.NewDialogServerCache(client, contact),
		outbound: sipgo.NewDialogClientCache(client, contact),
	}

	srv.OnInvite(s.recoverMiddleware(s.onInvite))
	srv.OnAck(s.recoverMiddleware(s.onAck))
	srv.OnBye(s.recoverMiddleware(s.onBye))
	srv.OnCancel(s.recoverMiddleware(s.onCancel))
	srv.OnOptions(s.recoverMiddleware(s.onOptions))
	srv.OnNoRoute(s.recoverMiddleware(func(req *sip.Request, tx sip.ServerTransaction) {
		s.respond(req, tx, 405, "Method Not Allowed")
	}))

	phone.SetDialer(s)
	return s, nil
}

// ListenAndServe serves SIP until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.logger.WithFields(logrus.Fields{
		"address":   addr,
		"transport": s.cfg.Transport,
	}).Info("SIP server listening")
	return s.srv.ListenAndServe(ctx, s.cfg.Transport, addr)
}

// Close shuts the user agent down
func (s *Server) Close() error {
	return s.ua.Close()
}

func (s *Server) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	decision := s.phone.Offer(callID, callerURI(req), sourceIP(req), req.Body())
	if !decision.Accepted() {
		s.respond(req, tx, decision.Status, decision.Reason)
		return
	}

	dlg, err := s.inbound.ReadInvite(req, tx)
	if err != nil {
		s.logger.WithError(err).WithField("call_id", callID).Error("Failed to create dialog")
		s.phone.Ended(callID)
		s.respond(req, tx, 500, "Server Internal Error")
		return
	}
	if err := dlg.Respond(180, "Ringing", nil); err != nil {
		s.logger.WithError(err).Debug("Failed to send 180 Ringing")
	}
	if err := dlg.RespondSDP(decision.Answer); err != nil {
		s.logger.WithError(err).WithField("call_id", callID).Error("Failed to send answer")
		s.phone.Ended(callID)
		return
	}
	metrics.RecordSIPRequest("INVITE", "200")
	s.phone.Answered(callID, dlg)
}

func (s *Server) onAck(req *sip.Request, tx sip.ServerTransaction) {
	if err := s.inbound.ReadAck(req, tx); err != nil {
		s.logger.WithError(err).Debug("ACK outside a known dialog")
		return
	}
	s.phone.Confirmed(callIDOf(req))
}

func (s *Server) onBye(req *sip.Request, tx sip.ServerTransaction) {
	if err := s.inbound.ReadBye(req, tx); err != nil {
		if err := s.outbound.ReadBye(req, tx); err != nil {
			s.respond(req, tx, 481, "Call/Transaction Does Not Exist")
			return
		}
	}
	metrics.RecordSIPRequest("BYE", "200")
	s.phone.Ended(callIDOf(req))
}

func (s *Server) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	s.respond(req, tx, 200, "OK")
	s.phone.Ended(callIDOf(req))
}

func (s *Server) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS"))
	resp.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	if err := tx.Respond(resp); err != nil {
		s.logger.WithError(err).Debug("Failed to answer OPTIONS")
	}
	metrics.RecordSIPRequest("OPTIONS", "200")
}

// Dial implements Dialer over the client dialog cache
func (s *Server) Dial(ctx context.Context, destination string, offer []byte) (Dialog, error) {
	var recipient sip.Uri
	if err := sip.ParseUri(destination, &recipient); err != nil {
		return Dialog{}, fmt.Errorf("invalid destination %q: %w", destination, err)
	}

	dlg, err := s.outbound.Invite(ctx, recipient, offer, sip.NewHeader("Content-Type", "application/sdp"))
	if err != nil {
		return Dialog{}, fmt.Errorf("INVITE %s: %w", destination, err)
	}
	if err := dlg.WaitAnswer(ctx, sipgo.AnswerOptions{}); err != nil {
		dlg.Close()
		return Dialog{}, fmt.Errorf("waiting for answer from %s: %w", destination, err)
	}
	if err := dlg.Ack(ctx); err != nil {
		return Dialog{Leg: dlg}, fmt.Errorf("ACK %s: %w", destination, err)
	}

	return Dialog{
		CallID: callIDOf(dlg.InviteRequest),
		Answer: dlg.InviteResponse.Body(),
		Leg:    dlg,
	}, nil
}

func (s *Server) respond(req *sip.Request, tx sip.ServerTransaction, status int, reason string) {
	resp := sip.NewResponseFromRequest(req, status, reason, nil)
	if status == 503 {
		resp.AppendHeader(sip.NewHeader("Retry-After", "30"))
	}
	if err := tx.Respond(resp); err != nil {
		s.logger.WithError(err).WithField("status", status).Debug("Failed to send response")
	}
	metrics.RecordSIPRequest(string(req.Method), strconv.Itoa(status))
}

// recoverMiddleware keeps a panicking handler from taking the transport down
func (s *Server) recoverMiddleware(handler func(*sip.Request, sip.ServerTransaction)) func(*sip.Request, sip.ServerTransaction) {
	return func(req *sip.Request, tx sip.ServerTransaction) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithFields(logrus.Fields{
					"method": string(req.Method),
					"panic":  r,
				}).Error("Recovered from panic in SIP handler")
				s.respond(req, tx, 500, "Server Internal Error")
			}
		}()
		handler(req, tx)
	}
}

func callIDOf(req *sip.Request) string {
	if req == nil {
		return ""
	}
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

// callerURI is the caller identity used for call history and blacklisting
func callerURI(req *sip.Request) string {
	from := req.From()
	if from == nil {
		return ""
	}
	if from.Address.User == "" {
		return "sip:" + from.Address.Host
	}
	return "sip:" + from.Address.User + "@" + from.Address.Host
}

func sourceIP(req *sip.Request) string {
	src := req.Source()
	if host, _, err := net.SplitHostPort(src); err == nil {
		return host
	}
	return src
}
