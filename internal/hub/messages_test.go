package hub

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	sessionID := uuid.New()
	userID := uuid.New()
	changedAt := time.Date(2024, 3, 9, 14, 30, 5, 123456789, time.UTC)
	plusOne := time.FixedZone("UTC+1", 3600)
	now := time.Now()

	tests := []struct {
		name string
		msg  Message
		// want is the decoded message when it differs from msg.
		want Message
	}{
		{"Init", Init{SessionID: sessionID}, nil},
		{"FileCreated", FileCreated{Path: "fonts/a.ttf", Source: SourceClient, SessionID: sessionID, UserID: userID}, nil},
		{"FileChanged", FileChanged{Path: "x.ttf", Timestamp: changedAt, Source: SourceClient, SessionID: sessionID, UserID: userID}, nil},
		{
			"FileChangedOffsetZone",
			FileChanged{Path: "x.ttf", Timestamp: changedAt.In(plusOne), Source: SourceClient, SessionID: sessionID, UserID: userID},
			FileChanged{Path: "x.ttf", Timestamp: changedAt, Source: SourceClient, SessionID: sessionID, UserID: userID},
		},
		{
			"FileChangedLocalClock",
			FileChanged{Path: "x.ttf", Timestamp: now, Source: SourceServer, SessionID: sessionID, UserID: userID},
			FileChanged{Path: "x.ttf", Timestamp: now.UTC(), Source: SourceServer, SessionID: sessionID, UserID: userID},
		},
		{"FileDeleted", FileDeleted{Path: "x.ttf", Source: SourceServer, SessionID: sessionID, UserID: userID}, nil},
		{"FolderCreated", FolderCreated{Path: "serif", SessionID: sessionID, UserID: userID}, nil},
		{"FolderDeleted", FolderDeleted{Path: "serif", SessionID: sessionID, UserID: userID}, nil},
		{"ObjectCreated", ObjectCreated{Path: "a/b.ttf", Source: SourceServer, SessionID: sessionID, UserID: userID}, nil},
		{"ObjectDeleted", ObjectDeleted{Path: "a/b.ttf", Source: SourceServer, SessionID: sessionID, UserID: userID}, nil},
		{"Ping", Ping{}, nil},
		{"Pong", Pong{}, nil},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			env := Envelope{SenderID: uuid.New(), Message: test.msg}

			encoded, err := EncodeEnvelope(env)
			require.NoError(t, err)

			decoded, err := DecodeEnvelope(encoded)
			require.NoError(t, err)
			assert.Equal(t, env.SenderID, decoded.SenderID)
			want := test.want
			if want == nil {
				want = test.msg
			}
			assert.Equal(t, want, decoded.Message)

			reencoded, err := EncodeEnvelope(decoded)
			require.NoError(t, err)
			assert.Equal(t, string(encoded), string(reencoded))
		})
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	sender := uuid.MustParse("6f1c2b1e-3d4a-4c5b-8e9f-0a1b2c3d4e5f")
	session := uuid.MustParse("11111111-2222-4333-8444-555555555555")
	user := uuid.MustParse("99999999-8888-4777-8666-555555555555")

	encoded, err := EncodeEnvelope(Envelope{SenderID: sender, Message: Ping{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"senderId":"6f1c2b1e-3d4a-4c5b-8e9f-0a1b2c3d4e5f","message":{"type":"Ping"}}`, string(encoded))

	encoded, err = EncodeEnvelope(Envelope{SenderID: sender, Message: ObjectCreated{
		Path:      "a/b.ttf",
		Source:    SourceServer,
		SessionID: session,
		UserID:    user,
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"senderId": "6f1c2b1e-3d4a-4c5b-8e9f-0a1b2c3d4e5f",
		"message": {
			"type": "ObjectCreated",
			"data": {
				"path": "a/b.ttf",
				"source": "Server",
				"sessionId": "11111111-2222-4333-8444-555555555555",
				"userId": "99999999-8888-4777-8666-555555555555"
			}
		}
	}`, string(encoded))
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	const (
		sender  = "6f1c2b1e-3d4a-4c5b-8e9f-0a1b2c3d4e5f"
		session = "11111111-2222-4333-8444-555555555555"
		user    = "99999999-8888-4777-8666-555555555555"
	)

	tests := []struct {
		name  string
		frame string
	}{
		{"NotJSON", `{"senderId":`},
		{"Array", `[]`},
		{"MissingSender", `{"message":{"type":"Ping"}}`},
		{"BadSender", `{"senderId":"nope","message":{"type":"Ping"}}`},
		{"MissingMessage", `{"senderId":"` + sender + `"}`},
		{"MissingType", `{"senderId":"` + sender + `","message":{}}`},
		{"UnknownType", `{"senderId":"` + sender + `","message":{"type":"FileRenamed","data":{}}}`},
		{"MissingData", `{"senderId":"` + sender + `","message":{"type":"FileCreated"}}`},
		{"NullData", `{"senderId":"` + sender + `","message":{"type":"Init","data":null}}`},
		{"UnknownField", `{"senderId":"` + sender + `","message":{"type":"FolderCreated","data":{"path":"a","sessionId":"` + session + `","userId":"` + user + `","extra":1}}}`},
		{"UnknownSource", `{"senderId":"` + sender + `","message":{"type":"FileDeleted","data":{"path":"a","source":"Robot","sessionId":"` + session + `","userId":"` + user + `"}}}`},
		{"MissingPath", `{"senderId":"` + sender + `","message":{"type":"ObjectDeleted","data":{"source":"Server","sessionId":"` + session + `","userId":"` + user + `"}}}`},
		{"MissingUser", `{"senderId":"` + sender + `","message":{"type":"FolderDeleted","data":{"path":"a","sessionId":"` + session + `"}}}`},
		{"MissingTimestamp", `{"senderId":"` + sender + `","message":{"type":"FileChanged","data":{"path":"a","source":"Client","sessionId":"` + session + `","userId":"` + user + `"}}}`},
		{"InitWithoutSession", `{"senderId":"` + sender + `","message":{"type":"Init","data":{}}}`},
		{"NullSender", `{"senderId":null,"message":{"type":"Ping"}}`},
		{"NullMessage", `{"senderId":"` + sender + `","message":null}`},
		{"NullFrame", `null`},
		{"ExtraTopLevelField", `{"senderId":"` + sender + `","message":{"type":"Ping"},"junk":1}`},
		{"ExtraMessageField", `{"senderId":"` + sender + `","message":{"type":"Ping","id":7}}`},
		{"UppercaseSenderKey", `{"SENDERID":"` + sender + `","message":{"type":"Ping"}}`},
		{"UppercaseTypeKey", `{"senderId":"` + sender + `","message":{"TYPE":"Ping"}}`},
		{"UppercaseDataKey", `{"senderId":"` + sender + `","message":{"type":"FolderCreated","data":{"PATH":"a","sessionId":"` + session + `","userId":"` + user + `"}}}`},
		{"PingWithData", `{"senderId":"` + sender + `","message":{"type":"Ping","data":{}}}`},
		{"PongWithNullData", `{"senderId":"` + sender + `","message":{"type":"Pong","data":null}}`},
		{"NumericType", `{"senderId":"` + sender + `","message":{"type":3}}`},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(test.frame))
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestIdentity(t *testing.T) {
	sessionID, userID := uuid.New(), uuid.New()

	gotSession, gotUser, ok := Identity(FileDeleted{Path: "a", Source: SourceClient, SessionID: sessionID, UserID: userID})
	assert.True(t, ok)
	assert.Equal(t, sessionID, gotSession)
	assert.Equal(t, userID, gotUser)

	_, _, ok = Identity(Ping{})
	assert.False(t, ok)
	_, _, ok = Identity(Init{SessionID: sessionID})
	assert.False(t, ok)
}
