package types

import (
	"encoding/hex"
	"encoding/json"
)

// Distribution carries opaque stake-distribution metadata attached to a
// single transaction output. It is aligned with the output it decorates,
// the same way TokenData is: present only where the issuing transaction
// assigns stake weight to that output's destination.
type Distribution struct {
	ValidatorPubKey []byte `json:"validator_pubkey"`
	Weight          uint64 `json:"weight"`
}

// distributionJSON is the JSON representation of Distribution with a
// hex-encoded pubkey, matching how tx.Input encodes its PubKey field.
type distributionJSON struct {
	ValidatorPubKey *string `json:"validator_pubkey"`
	Weight          uint64  `json:"weight"`
}

// MarshalJSON encodes the distribution with a hex-encoded validator pubkey.
func (d Distribution) MarshalJSON() ([]byte, error) {
	j := distributionJSON{Weight: d.Weight}
	if d.ValidatorPubKey != nil {
		s := hex.EncodeToString(d.ValidatorPubKey)
		j.ValidatorPubKey = &s
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a distribution with a hex-encoded validator pubkey.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	var j distributionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	d.Weight = j.Weight
	if j.ValidatorPubKey != nil {
		b, err := hex.DecodeString(*j.ValidatorPubKey)
		if err != nil {
			return err
		}
		d.ValidatorPubKey = b
	}
	return nil
}
