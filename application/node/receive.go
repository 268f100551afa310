package node

import (
	"context"

	"esence/application/queue"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"

	domainsvc "esence/domain/services"
	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// Verdict is what the receive path tells the sender
type Verdict string

const (
	// VerdictReceived means the message was stored or handled
	VerdictReceived Verdict = "received"
	// VerdictDropped means the signature did not check out. The sender is
	// answered as if the message had been received.
	VerdictDropped Verdict = "dropped"
	// VerdictRejected is a policy refusal: capacity, block or do-not-disturb
	VerdictRejected Verdict = "rejected"
)

// Receipt is the result of receiving one wire message
type Receipt struct {
	Verdict    Verdict
	ThreadID   valueobjects.ThreadID
	Status     valueobjects.ThreadStatus
	Outcome    valueobjects.Outcome
	KnownPeers []string
}

// Receive verifies and dispatches an inbound message. Errors are reserved
// for malformed input and internal failures; signature problems and policy
// refusals are verdicts.
func (n *Node) Receive(ctx context.Context, msg entities.Message) (Receipt, error) {
	msgType := string(msg.Type())
	if !msg.To.Equals(n.deps.Identity.DID()) {
		n.deps.Metrics.ObserveReceived(msgType, "misaddressed")
		return Receipt{}, apperrors.NewValidationError("message is not addressed to this node")
	}

	if err := n.deps.Identity.VerifyMessage(ctx, msg); err != nil {
		if apperrors.IsSignatureInvalid(err) || apperrors.IsResolutionFailed(err) {
			n.logger.Warn("dropping unverifiable message",
				zap.String("from", msg.From.String()),
				zap.String("type", msgType),
				zap.Error(err),
			)
			n.deps.Metrics.ObserveReceived(msgType, string(VerdictDropped))
			return Receipt{Verdict: VerdictDropped}, nil
		}
		return Receipt{}, err
	}

	var receipt Receipt
	var err error
	switch body := msg.Body.(type) {
	case entities.PeerIntroBody:
		receipt, err = n.receiveIntro(ctx, msg, body)
	case entities.CapacityStatusBody:
		receipt, err = n.receiveCapacity(ctx, msg, body)
	default:
		receipt, err = n.receiveConversation(ctx, msg)
	}
	if err != nil {
		n.check(err)
		n.deps.Metrics.ObserveReceived(msgType, "error")
		return Receipt{}, err
	}
	n.deps.Metrics.ObserveReceived(msgType, string(receipt.Verdict))
	return receipt, nil
}

func (n *Node) receiveIntro(ctx context.Context, msg entities.Message, body entities.PeerIntroBody) (Receipt, error) {
	if p, ok := n.deps.Peers.Get(msg.From); ok && p.Blocked {
		return Receipt{Verdict: VerdictRejected, Outcome: valueobjects.OutcomeBlocked}, nil
	}
	if _, err := n.deps.Peers.MergeGossip(ctx, msg.From, body.KnownPeers); err != nil {
		return Receipt{}, err
	}
	if _, err := n.deps.Peers.RecordInteraction(ctx, msg.From, entities.InteractionSuccess); err != nil {
		return Receipt{}, err
	}
	return Receipt{Verdict: VerdictReceived, KnownPeers: n.deps.Peers.GossipPayload()}, nil
}

func (n *Node) receiveCapacity(ctx context.Context, msg entities.Message, body entities.CapacityStatusBody) (Receipt, error) {
	if err := n.deps.Peers.UpdateCapacity(ctx, msg.From, body.AvailablePct); err != nil {
		return Receipt{}, err
	}
	return Receipt{Verdict: VerdictReceived}, nil
}

// receiveConversation routes thread messages. Messages on a known thread
// are checked against the block list and admitted only when they would
// trigger a fresh draft; new threads go through topic classification, the
// autonomy policy and capacity admission.
func (n *Node) receiveConversation(ctx context.Context, msg entities.Message) (Receipt, error) {
	peer, known := n.deps.Peers.Get(msg.From)

	existing, err := n.queue.Get(ctx, msg.ThreadID)
	switch {
	case err == nil:
		if known && peer.Blocked {
			return n.reject(ctx, msg, existing.Domain, valueobjects.OutcomeBlocked)
		}
		route := queue.Route{Domain: existing.Domain}
		if n.deps.QueueConfig.DraftOnArrival && existing.Status == valueobjects.StatusPendingReview {
			admission, err := n.deps.Capacity.Admit(ctx, msg.From, n.deps.Capacity.Estimate(msg.Content))
			if err != nil {
				return Receipt{}, err
			}
			route.Admitted = admission.Allowed
			if !admission.Allowed {
				n.logger.Info("capacity exhausted, follow-up kept without a draft",
					zap.String("thread_id", msg.ThreadID.String()),
					zap.String("reason", admission.Reason),
				)
			}
		}
		r, err := n.queue.Ingest(ctx, msg, route)
		if err != nil {
			return Receipt{}, err
		}
		return received(r), nil
	case !apperrors.IsNotFound(err):
		return Receipt{}, err
	}

	var subject string
	if b, ok := msg.Body.(entities.ThreadMessageBody); ok {
		subject = b.Subject
	}
	domain := n.deps.Classifier.Classify(subject, msg.Content)

	settings := n.Settings()
	decision := n.decide(domainsvc.RoutingInput{
		Domain:      domain,
		Mood:        settings.Mood,
		AutoApprove: settings.AutoApprove,
		KnownPeer:   known,
		Blocked:     known && peer.Blocked,
		PeerTrust:   peer.TrustScore,
		Maturity:    n.deps.Corrections.Maturity(),
	})
	if decision.Route == domainsvc.RouteReject {
		n.logger.Info("refused new thread",
			zap.String("from", msg.From.String()),
			zap.String("outcome", string(decision.Outcome)),
			zap.String("reason", decision.Reason),
		)
		return n.reject(ctx, msg, domain, decision.Outcome)
	}

	admission, err := n.deps.Capacity.Admit(ctx, msg.From, n.deps.Capacity.Estimate(msg.Content))
	if err != nil {
		return Receipt{}, err
	}
	if !admission.Allowed {
		n.logger.Info("capacity exhausted, refusing thread",
			zap.String("from", msg.From.String()),
			zap.String("reason", admission.Reason),
		)
		return n.reject(ctx, msg, domain, valueobjects.OutcomeCapacityRejected)
	}

	r, err := n.queue.Ingest(ctx, msg, queue.Route{
		Domain:     domain,
		Autonomous: decision.Route == domainsvc.RouteAutonomous,
	})
	if err != nil {
		return Receipt{}, err
	}
	n.logger.Debug("thread received",
		zap.String("thread_id", r.ThreadID.String()),
		zap.String("domain", domain),
		zap.String("route", string(decision.Route)),
		zap.String("reason", decision.Reason),
	)
	return received(r), nil
}

func (n *Node) reject(ctx context.Context, msg entities.Message, domain string, outcome valueobjects.Outcome) (Receipt, error) {
	r, err := n.queue.IngestRejected(ctx, msg, domain, outcome)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Verdict: VerdictRejected, ThreadID: r.ThreadID, Status: r.Status, Outcome: outcome}, nil
}

func received(r queue.Receipt) Receipt {
	return Receipt{Verdict: VerdictReceived, ThreadID: r.ThreadID, Status: r.Status}
}
