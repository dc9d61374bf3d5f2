package feddfg

import (
	"context"
	"fmt"
)

// Keyholder is the party that generates the run's key pair, aggregates
// both encrypted vectors and decrypts the total. It is the only party that
// ever holds a secret key, and the key pair lives for exactly one run.
type Keyholder struct {
	sid    []byte
	engine Engine
	local  FrequencyTable
}

func NewKeyholder(sid []byte, engine Engine, local FrequencyTable) *Keyholder {
	return &Keyholder{sid: sid, engine: engine, local: local}
}

// Run drives one aggregation run against the contributor on the other end
// of the conduit. On success both parties hold the same global table; on
// failure the returned error names the stage that was interrupted and no
// graph is published.
func (kh *Keyholder) Run(ctx context.Context, conduit Conduit, cfg Config) (*RunResult, error) {
	ix, err := kh.reconcile(ctx, conduit, cfg)
	if err != nil {
		return nil, fail(PhaseReconciled, err)
	}

	kp, err := kh.engine.GenerateKeys()
	if err != nil {
		return nil, fail(PhaseKeysEstablished, err)
	}
	pkb, err := kp.Public().MarshalBinary()
	if err != nil {
		return nil, fail(PhaseKeysEstablished, err)
	}
	err = conduit.Send(ctx, &Message{Kind: MsgPublicKey, Session: kh.sid, Scheme: kh.engine.Scheme(), Key: pkb})
	if err != nil {
		return nil, fail(PhaseKeysEstablished, err)
	}

	vec, err := ix.Vector(kh.local)
	if err != nil {
		return nil, fail(PhaseLocalEncrypted, err)
	}
	own, err := kh.engine.Encrypt(kp.Public(), vec)
	if err != nil {
		return nil, fail(PhaseLocalEncrypted, err)
	}

	msg, err := recvKind(ctx, conduit, MsgCipher, kh.sid)
	if err != nil {
		return nil, fail(PhaseExchanged, err)
	}
	theirs, err := kh.engine.UnmarshalCipherVector(msg.Cipher)
	if err != nil {
		return nil, fail(PhaseExchanged, err)
	}

	sum, err := kh.engine.Add(own, theirs)
	if err != nil {
		return nil, fail(PhaseAggregated, err)
	}

	values, err := kh.engine.Decrypt(kp, sum)
	if err != nil {
		return nil, fail(PhaseDecrypted, err)
	}

	// Publish the totals together with the labels this side knows. In PSI
	// mode the contributor answers with its own labels so both sides can
	// name every slot of the published graph.
	err = conduit.Send(ctx, &Message{Kind: MsgResult, Session: kh.sid, Values: values, Labels: ix.KnownLabels()})
	if err != nil {
		return nil, fail(PhaseDecrypted, err)
	}
	if cfg.UsePSI {
		msg, err := recvKind(ctx, conduit, MsgLabels, kh.sid)
		if err != nil {
			return nil, fail(PhaseDecrypted, err)
		}
		if err := ix.LearnLabels(msg.Labels); err != nil {
			return nil, fail(PhaseDecrypted, err)
		}
	}

	table, err := ix.Table(values)
	if err != nil {
		return nil, fail(PhaseDecrypted, err)
	}
	return &RunResult{Table: table, Graph: NewDFG(table)}, nil
}

func (kh *Keyholder) reconcile(ctx context.Context, conduit Conduit, cfg Config) (*PairIndex, error) {
	pairs := kh.local.Pairs()
	sortPairs(pairs)

	if !cfg.UsePSI {
		err := conduit.Send(ctx, &Message{Kind: MsgPairs, Session: kh.sid, Pairs: pairs})
		if err != nil {
			return nil, err
		}
		msg, err := recvKind(ctx, conduit, MsgPairs, kh.sid)
		if err != nil {
			return nil, err
		}
		return NewPairIndexClear(pairs, msg.Pairs)
	}

	bl := newRunBlinder(kh.sid, cfg, RoleKeyholder)
	blinds, err := bl.BlindPairs(pairs)
	if err != nil {
		return nil, err
	}
	err = conduit.Send(ctx, &Message{Kind: MsgBlind, Session: kh.sid, Points: blinds})
	if err != nil {
		return nil, err
	}
	msg, err := recvKind(ctx, conduit, MsgBlind, kh.sid)
	if err != nil {
		return nil, err
	}
	theirDoubles := bl.ReblindPoints(msg.Points)
	err = conduit.Send(ctx, &Message{Kind: MsgReblind, Session: kh.sid, Points: theirDoubles})
	if err != nil {
		return nil, err
	}
	msg, err = recvKind(ctx, conduit, MsgReblind, kh.sid)
	if err != nil {
		return nil, err
	}
	if len(msg.Points) != len(pairs) {
		return nil, fmt.Errorf("%w: sent %d blinded pairs, got %d back", ErrReconciliation, len(pairs), len(msg.Points))
	}
	return NewPairIndexPSI(pairs, msg.Points, theirDoubles)
}
