package feddfg

import (
	"context"
	"fmt"
)

// Contributor is the party that encrypts its local frequencies under the
// keyholder's public key. By construction it never holds a secret key, so
// everything it sends stays opaque to itself once encrypted.
type Contributor struct {
	sid    []byte
	engine Engine
	local  FrequencyTable
}

func NewContributor(sid []byte, engine Engine, local FrequencyTable) *Contributor {
	return &Contributor{sid: sid, engine: engine, local: local}
}

// Run drives one aggregation run against the keyholder on the other end of
// the conduit. The contributor receives the decrypted totals from the
// keyholder at the end of the run; both sides then assemble the same graph.
func (ct *Contributor) Run(ctx context.Context, conduit Conduit, cfg Config) (*RunResult, error) {
	ix, err := ct.reconcile(ctx, conduit, cfg)
	if err != nil {
		return nil, fail(PhaseReconciled, err)
	}

	msg, err := recvKind(ctx, conduit, MsgPublicKey, ct.sid)
	if err != nil {
		return nil, fail(PhaseKeysEstablished, err)
	}
	if msg.Scheme != ct.engine.Scheme() {
		return nil, fail(PhaseKeysEstablished,
			fmt.Errorf("keyholder announced scheme %s, this party runs %s", msg.Scheme, ct.engine.Scheme()))
	}
	pk, err := ct.engine.UnmarshalPublicKey(msg.Key)
	if err != nil {
		return nil, fail(PhaseKeysEstablished, err)
	}

	vec, err := ix.Vector(ct.local)
	if err != nil {
		return nil, fail(PhaseLocalEncrypted, err)
	}
	own, err := ct.engine.Encrypt(pk, vec)
	if err != nil {
		return nil, fail(PhaseLocalEncrypted, err)
	}
	cb, err := own.MarshalBinary()
	if err != nil {
		return nil, fail(PhaseLocalEncrypted, err)
	}
	err = conduit.Send(ctx, &Message{Kind: MsgCipher, Session: ct.sid, Cipher: cb})
	if err != nil {
		return nil, fail(PhaseExchanged, err)
	}

	msg, err = recvKind(ctx, conduit, MsgResult, ct.sid)
	if err != nil {
		return nil, fail(PhaseDecrypted, err)
	}
	if cfg.UsePSI {
		// Answer with the labels this side knows before merging the
		// keyholder's, so the reply carries only own observations.
		err = conduit.Send(ctx, &Message{Kind: MsgLabels, Session: ct.sid, Labels: ix.KnownLabels()})
		if err != nil {
			return nil, fail(PhaseDecrypted, err)
		}
	}
	if err := ix.LearnLabels(msg.Labels); err != nil {
		return nil, fail(PhaseDecrypted, err)
	}

	table, err := ix.Table(msg.Values)
	if err != nil {
		return nil, fail(PhaseDecrypted, err)
	}
	return &RunResult{Table: table, Graph: NewDFG(table)}, nil
}

func (ct *Contributor) reconcile(ctx context.Context, conduit Conduit, cfg Config) (*PairIndex, error) {
	pairs := ct.local.Pairs()
	sortPairs(pairs)

	if !cfg.UsePSI {
		msg, err := recvKind(ctx, conduit, MsgPairs, ct.sid)
		if err != nil {
			return nil, err
		}
		if err := conduit.Send(ctx, &Message{Kind: MsgPairs, Session: ct.sid, Pairs: pairs}); err != nil {
			return nil, err
		}
		return NewPairIndexClear(pairs, msg.Pairs)
	}

	bl := newRunBlinder(ct.sid, cfg, RoleContributor)
	msg, err := recvKind(ctx, conduit, MsgBlind, ct.sid)
	if err != nil {
		return nil, err
	}
	theirBlinds := msg.Points
	blinds, err := bl.BlindPairs(pairs)
	if err != nil {
		return nil, err
	}
	if err := conduit.Send(ctx, &Message{Kind: MsgBlind, Session: ct.sid, Points: blinds}); err != nil {
		return nil, err
	}
	msg, err = recvKind(ctx, conduit, MsgReblind, ct.sid)
	if err != nil {
		return nil, err
	}
	if len(msg.Points) != len(pairs) {
		return nil, fmt.Errorf("%w: sent %d blinded pairs, got %d back", ErrReconciliation, len(pairs), len(msg.Points))
	}
	theirDoubles := bl.ReblindPoints(theirBlinds)
	if err := conduit.Send(ctx, &Message{Kind: MsgReblind, Session: ct.sid, Points: theirDoubles}); err != nil {
		return nil, err
	}
	return NewPairIndexPSI(pairs, msg.Points, theirDoubles)
}
