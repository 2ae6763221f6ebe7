package synstamp

import (
	"errors"
	"strconv"
)

// ValidateFlags modify the checks performed by frame validation methods.
type ValidateFlags uint8

const (
	// ValidateEvilBit rejects IPv4 frames with the RFC 3514 evil bit set.
	ValidateEvilBit ValidateFlags = 1 << iota
	// ValidateAllowMultiErrors accumulates every error found instead of only the first.
	ValidateAllowMultiErrors
)

func (vf ValidateFlags) has(v ValidateFlags) bool { return vf&v == v }

// Validator accumulates errors found while validating frames. It is reused
// between frames to avoid allocating on the receive path.
// The zero value is ready to use and stops at the first error.
type Validator struct {
	accum       []error
	accumBitpos []BitPosErr
	flags       ValidateFlags
}

// SetFlags sets the validation flags. See [ValidateFlags].
func (v *Validator) SetFlags(flags ValidateFlags) { v.flags = flags }

// Flags returns the validation flags.
func (v *Validator) Flags() ValidateFlags { return v.flags }

// ResetErr discards accumulated errors.
func (v *Validator) ResetErr() {
	v.accum = v.accum[:0]
	v.accumBitpos = v.accumBitpos[:0]
}

// HasError reports whether an error was accumulated since the last reset.
func (v *Validator) HasError() bool { return len(v.accum) != 0 }

// Err returns the accumulated errors, joined if more than one.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	}
	return errors.Join(v.accum...)
}

// ErrPop returns the accumulated errors and resets the validator.
// Returned errors are detached from the validator's storage.
func (v *Validator) ErrPop() error {
	err := v.Err()
	if err != nil {
		v.accum = nil
		v.accumBitpos = nil
	}
	return err
}

// AddError adds a generic validation error.
func (v *Validator) AddError(err error) {
	if err == nil {
		panic("error argument to AddError cannot be nil")
	} else if !v.accepting() {
		return
	}
	v.accum = append(v.accum, err)
}

// AddBitPosErr adds an error that is located at a specific bit range of the frame.
func (v *Validator) AddBitPosErr(bitStart, bitLen int, err error) {
	if err == nil {
		panic("err argument to AddBitPosErr cannot be nil")
	} else if bitLen <= 0 {
		panic("bit length must be positive")
	} else if !v.accepting() {
		return
	}
	v.accumBitpos = append(v.accumBitpos, BitPosErr{BitStart: bitStart, BitLen: bitLen, Err: err})
	v.accum = append(v.accum, &v.accumBitpos[len(v.accumBitpos)-1])
}

func (v *Validator) accepting() bool {
	return len(v.accum) == 0 || v.flags.has(ValidateAllowMultiErrors)
}

// BitPosErr is a validation error located at a bit range of a frame.
type BitPosErr struct {
	BitStart int
	BitLen   int
	Err      error
}

func (bpe *BitPosErr) Error() string {
	return bpe.Err.Error() + " at bits " + strconv.Itoa(bpe.BitStart) + ".." + strconv.Itoa(bpe.BitStart+bpe.BitLen)
}

func (bpe *BitPosErr) Unwrap() error { return bpe.Err }
