package dialog

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artur/dispatch-bot/internal/database/models"
	"github.com/artur/dispatch-bot/internal/permission"
)

func TestStepRegistry(t *testing.T) {
	for _, f := range flows {
		entry, ok := StepFor(f.Entry)
		require.True(t, ok, "flow %s entry %s", f.Name, f.Entry)
		assert.Same(t, f, entry.Flow)
	}

	for key, s := range steps {
		assert.Equal(t, key, s.Key)
		assert.NotNil(t, s.Flow, "step %s", key)
		assert.NotNil(t, s.Submit, "step %s", key)
		assert.NotEmpty(t, s.Prompt, "step %s", key)
		if s.Shape == ShapeChoice {
			assert.NotEmpty(t, s.Choices, "step %s", key)
		}
		if s.Gate != permission.ActionNone {
			assert.Equal(t, s.Flow.Action, s.Gate, "step %s gates a foreign action", key)
		}
	}
}

func TestFlowEntry_EveryRole(t *testing.T) {
	for _, f := range flows {
		for _, role := range models.Roles {
			t.Run(f.Name+"/"+string(role), func(t *testing.T) {
				fx := setup(t)
				fx.newUser(t, 100, role)

				res := fx.command(t, 100, f.Command, "")
				if role.AtLeast(f.MinRole) {
					assert.Equal(t, OutcomeStarted, res.Outcome)
					assert.Equal(t, string(f.Entry), fx.get(t, 100).Dialog.Step)
				} else {
					assert.Equal(t, OutcomeUnauthorized, res.Outcome)
					assert.Nil(t, fx.get(t, 100).Dialog)
				}
			})
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "+998901234567", want: "+998901234567", ok: true},
		{in: "998901234567", want: "+998901234567", ok: true},
		{in: "+998 (90) 123-45-67", want: "+998901234567", ok: true},
		{in: "12345", ok: false},
		{in: "+99890abc4567", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := normalizePhone(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepAccept(t *testing.T) {
	lang, _ := StepFor(StepChooseLanguage)
	target, _ := StepFor(StepRolePickTarget)
	name, _ := StepFor(StepCollectName)

	tests := []struct {
		name    string
		step    *Step
		ev      Event
		want    string
		wantErr bool
	}{
		{name: "choice by text", step: lang, ev: Event{Kind: KindText, Payload: " RU "}, want: "ru"},
		{name: "choice by button", step: lang, ev: Event{Kind: KindCallback, Payload: "choose_language:uz"}, want: "uz"},
		{name: "button of another step", step: lang, ev: Event{Kind: KindCallback, Payload: "role_pick_role:uz"}, wantErr: true},
		{name: "unknown choice", step: lang, ev: Event{Kind: KindText, Payload: "en"}, wantErr: true},
		{name: "reference", step: target, ev: Event{Kind: KindText, Payload: "#42"}, want: "42"},
		{name: "negative reference", step: target, ev: Event{Kind: KindText, Payload: "-4"}, wantErr: true},
		{name: "text", step: name, ev: Event{Kind: KindText, Payload: " Ann "}, want: "Ann"},
		{name: "blank text", step: name, ev: Event{Kind: KindText, Payload: "   "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.step.accept(tt.ev)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReferral(t *testing.T) {
	tests := []struct {
		payload string
		want    int64
		ok      bool
	}{
		{payload: "ref_12", want: 12, ok: true},
		{payload: "12", want: 12, ok: true},
		{payload: "", ok: false},
		{payload: "ref_", ok: false},
		{payload: "ref_x", ok: false},
		{payload: "ref_0", ok: false},
	}

	for _, tt := range tests {
		t.Run(strconv.Quote(tt.payload), func(t *testing.T) {
			got, ok := parseReferral(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
