package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows future algorithm migration.
const (
	DomainStrategy = "kloop/strategy/v1"
	DomainKernel   = "kloop/kernel/v1"
	DomainListing  = "kloop/listing/v1"
	DomainSchedule = "kloop/schedule/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StrategyHash computes the content hash of a strategy's knobs.
func StrategyHash(s Strategy) (string, error) {
	canonical, err := MarshalCanonical(s.Object())
	if err != nil {
		return "", fmt.Errorf("StrategyHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainStrategy, canonical), nil
}

// KernelID computes the identity of a generated kernel: the strategy hash,
// the generator version and the generation options that change the output.
func KernelID(strategyHash string, options IRObject) (string, error) {
	if options == nil {
		options = IRObject{}
	}
	obj := IRObject{
		"strategy_hash":     IRString(strategyHash),
		"generator_version": IRString(GeneratorVersion),
		"options":           options,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("KernelID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainKernel, canonical), nil
}

// ListingHash hashes a rendered program listing.
func ListingHash(listing []byte) string {
	return hashWithDomain(DomainListing, listing)
}

// ScheduleHash hashes the rendered form of an analysed schedule.
func ScheduleHash(rendered []byte) string {
	return hashWithDomain(DomainSchedule, rendered)
}

// MustStrategyHash is like StrategyHash but panics on error.
// Use only in tests or when the input is known to be valid.
func MustStrategyHash(s Strategy) string {
	h, err := StrategyHash(s)
	if err != nil {
		panic(err)
	}
	return h
}
