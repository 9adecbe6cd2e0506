package pricing

import "testing"

func TestForKind_FeeTable(t *testing.T) {
	cases := []struct {
		kind Kind
		fee  int64
	}{
		{KindAirtime, 50},
		{KindData, 50},
		{KindCable, 50},
		{KindInternet, 50},
		{KindGiftcard, 50},
		{KindElectricity, 100},
		{KindEducation, 100},
		{KindInsurance, 100},
		{KindTax, 100},
		{KindDeposit, 0},
	}
	for _, tc := range cases {
		s, ok := ForKind(tc.kind)
		if !ok {
			t.Fatalf("%s: kind not configured", tc.kind)
		}
		if s.FeeMinor != tc.fee {
			t.Errorf("%s: expected fee %d, got %d", tc.kind, tc.fee, s.FeeMinor)
		}
	}
}

func TestForKind_UnknownKind(t *testing.T) {
	if _, ok := ForKind(Kind("betting")); ok {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestRewardPoints(t *testing.T) {
	airtime, _ := ForKind(KindAirtime)
	if got := airtime.RewardPoints(500); got != 5 {
		t.Fatalf("airtime 500 => expected 5 points, got %d", got)
	}
	data, _ := ForKind(KindData)
	if got := data.RewardPoints(500); got != 2 {
		t.Fatalf("data 500 => expected 2 points, got %d", got)
	}
	electricity, _ := ForKind(KindElectricity)
	if got := electricity.RewardPoints(999); got != 1 {
		t.Fatalf("electricity 999 => expected 1 point, got %d", got)
	}
	withdraw, _ := ForKind(KindWithdraw)
	if got := withdraw.RewardPoints(10000); got != 0 {
		t.Fatalf("withdraw earns no points, got %d", got)
	}
}

func TestValidateParams(t *testing.T) {
	s, _ := ForKind(KindElectricity)
	if missing := s.ValidateParams(map[string]string{"meter_number": "0123", "disco": "ikeja"}); missing != "" {
		t.Fatalf("expected valid params, missing %q", missing)
	}
	if missing := s.ValidateParams(map[string]string{"meter_number": "0123"}); missing != "disco" {
		t.Fatalf("expected disco missing, got %q", missing)
	}
}

func TestWithdrawDebitsUpfront(t *testing.T) {
	s, _ := ForKind(KindWithdraw)
	if !s.DebitUpfront {
		t.Fatalf("withdrawals must move money before the provider call")
	}
	airtime, _ := ForKind(KindAirtime)
	if airtime.DebitUpfront {
		t.Fatalf("airtime must settle on provider success")
	}
}
