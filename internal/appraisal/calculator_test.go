package appraisal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

func TestCalculate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		signals SignalSet
		want    int64
	}{
		{
			name: "worked example",
			// weeks=5, depreciation_rate=0.0015, depreciation=150,
			// duty=600, net=18450, fx=1.33, 18450*1.33=24538.5 which
			// rounds half to even down to 24538.
			signals: SignalSet{
				USWholesaleValue:         fptr(20000),
				ExchangeRate:             fptr(1.35),
				FXCushion:                0.02,
				ExportCost:               fptr(500),
				TargetGPU:                fptr(300),
				CustomsDutyRate:          0.03,
				WeeklyDepreciationFactor: 0.15,
				AverageDaysInInventory:   35,
			},
			want: 24538,
		},
		{
			name: "half rounds to even upward",
			// 4500.5 * 1.0 = 4500.5 -> 4500 (even); 4501.5 -> 4502.
			signals: SignalSet{
				USWholesaleValue: fptr(4501.5),
				ExchangeRate:     fptr(1.0),
			},
			want: 4502,
		},
		{
			name: "half rounds to even downward",
			signals: SignalSet{
				USWholesaleValue: fptr(4500.5),
				ExchangeRate:     fptr(1.0),
			},
			want: 4500,
		},
		{
			name: "fees and cushion default to zero",
			signals: SignalSet{
				USWholesaleValue: fptr(15000),
				ExchangeRate:     fptr(1.40),
			},
			want: 21000,
		},
		{
			name: "negative export value propagates",
			signals: SignalSet{
				USWholesaleValue: fptr(1000),
				ExchangeRate:     fptr(1.30),
				ExportCost:       fptr(2000),
			},
			want: -1300,
		},
		{
			name: "nonpositive inventory days disable depreciation",
			signals: SignalSet{
				USWholesaleValue:         fptr(10000),
				ExchangeRate:             fptr(1.0),
				WeeklyDepreciationFactor: 0.5,
				AverageDaysInInventory:   -7,
			},
			want: 10000,
		},
		{
			name: "zero wholesale value is still a definite value",
			signals: SignalSet{
				USWholesaleValue: fptr(0),
				ExchangeRate:     fptr(1.35),
				ExportCost:       fptr(500),
			},
			want: -675,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := Calculate(tt.signals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.ExportValueCAD)
		})
	}
}

func TestCalculateInsufficientData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		signals SignalSet
	}{
		{"missing wholesale value", SignalSet{
			ExchangeRate:             fptr(1.35),
			FXCushion:                0.02,
			ExportCost:               fptr(500),
			TargetGPU:                fptr(300),
			CustomsDutyRate:          0.03,
			WeeklyDepreciationFactor: 0.15,
			AverageDaysInInventory:   35,
		}},
		{"missing exchange rate", SignalSet{USWholesaleValue: fptr(20000)}},
		{"empty set", SignalSet{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Calculate(tt.signals)
			assert.ErrorIs(t, err, ErrInsufficientData)
		})
	}
}

func TestValuationBreakdown(t *testing.T) {
	t.Parallel()

	v, err := Calculate(SignalSet{
		USWholesaleValue:         fptr(20000),
		ExchangeRate:             fptr(1.35),
		FXCushion:                0.02,
		ExportCost:               fptr(500),
		TargetGPU:                fptr(300),
		CustomsDutyRate:          0.03,
		WeeklyDepreciationFactor: 0.15,
		AverageDaysInInventory:   35,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.33, v.EffectiveFX, 1e-9)
	assert.InDelta(t, 600, v.CustomsDuty, 1e-9)
	assert.InDelta(t, 5, v.Weeks, 1e-9)
	assert.InDelta(t, 150, v.Depreciation, 1e-9)
	assert.InDelta(t, 18450, v.NetUSD, 1e-9)
	assert.Equal(t, "24538", v.String())
}
