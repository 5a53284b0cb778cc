package regen

import "testing"

func TestComputeInputHash_StableAcrossRuns(t *testing.T) {
	clientData := map[string]interface{}{
		"client_name": "Acme Corp",
		"engagement":  "Q3 Audit",
		"amount":      1250.5,
	}

	first, err := ComputeInputHash(55001, clientData)
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	second, err := ComputeInputHash(55001, clientData)
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	if first != second {
		t.Errorf("hash not stable across calls: %s != %s", first, second)
	}
}

func TestComputeInputHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"alpha": 1, "beta": 2, "gamma": 3}
	b := map[string]interface{}{"gamma": 3, "alpha": 1, "beta": 2}

	hashA, err := ComputeInputHash(1, a)
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	hashB, err := ComputeInputHash(1, b)
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	if hashA != hashB {
		t.Errorf("hash depends on map key order: %s != %s", hashA, hashB)
	}
}

func TestComputeInputHash_DiffersBySectionOrData(t *testing.T) {
	base, err := ComputeInputHash(1, map[string]interface{}{"client_name": "Acme"})
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}

	byDifferentSection, err := ComputeInputHash(2, map[string]interface{}{"client_name": "Acme"})
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	if base == byDifferentSection {
		t.Error("expected different section ids to produce different hashes")
	}

	byDifferentData, err := ComputeInputHash(1, map[string]interface{}{"client_name": "Globex"})
	if err != nil {
		t.Fatalf("ComputeInputHash: %v", err)
	}
	if base == byDifferentData {
		t.Error("expected different client data to produce different hashes")
	}
}

func TestComputeInputHash_NilClientData(t *testing.T) {
	if _, err := ComputeInputHash(1, nil); err != nil {
		t.Fatalf("ComputeInputHash with nil client data: %v", err)
	}
}
