package stream

import "fmt"

// applyRecord decodes rec's payload via the Context's cache and invokes the
// registered RecordProcessor, if any. A missing handler is a documented
// skip, not an error; with no decoder registered for the value type the
// handler receives the raw payload ([]byte) as its value. dbc is the
// transaction the handler's store mutations join; the caller is
// responsible for commit/discard.
func applyRecord(sc *Context, dbc DbContext, mode ProcessingMode, rec Record) error {
	proc, ok := sc.Registry().Lookup(rec.Type)
	if !ok {
		return nil
	}

	var value any = rec.Payload
	if dec, ok := sc.Cache().Get(rec.Type.ValueType); ok {
		defer sc.Cache().Put(rec.Type.ValueType, dec)
		v, err := dec.Decode(rec.Payload)
		if err != nil {
			return fmt.Errorf("decode %s: %w", rec.Type, err)
		}
		value = v
	}

	sc.setTx(dbc)
	defer sc.setTx(nil)

	if err := proc.Process(sc, mode, rec, value); err != nil {
		var rej *Rejection
		if asRejection(err, &rej) {
			sc.Emit(rec.Type.ValueType, "rejected", rec.Key, []byte(rej.Message))
			return nil
		}
		return err
	}
	return nil
}

func asRejection(err error, target **Rejection) bool {
	rej, ok := err.(*Rejection)
	if !ok {
		return false
	}
	*target = rej
	return true
}
