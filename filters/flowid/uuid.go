package flowid

import "github.com/google/uuid"

type uuidGenerator struct{}

// NewUUIDGenerator creates a generator of random (version 4) UUIDs in the
// canonical textual form. It is safe for concurrent use.
func NewUUIDGenerator() Generator {
	return uuidGenerator{}
}

func (uuidGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (g uuidGenerator) MustGenerate() string {
	return uuid.NewString()
}

// IsValid accepts only the canonical form, uuid.Parse accepts also
// braced and urn prefixed variants.
func (uuidGenerator) IsValid(flowId string) bool {
	if len(flowId) != 36 {
		return false
	}

	_, err := uuid.Parse(flowId)
	return err == nil
}
