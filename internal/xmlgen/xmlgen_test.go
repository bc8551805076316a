package xmlgen

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brosync/internal/domain"
)

func TestBuildIsDeterministic(t *testing.T) {
	p := GLDStartRegistration{
		Meta: Meta{
			Ref:                      "17",
			DeliveryAccountableParty: "27376655",
			QualityRegime:            "IMBRO",
		},
		ObjectID:   "GLD-17",
		GMWBroID:   "GMW000000042583",
		TubeNumber: 1,
	}
	first, err := Build(p)
	require.NoError(t, err)
	second, err := Build(p)
	require.NoError(t, err)
	assert.Equal(t, first.Bytes, second.Bytes)
	assert.Equal(t, "17_GLD_StartRegistration_0", first.RequestReference)
}

func TestRequestReferencePrefersBroID(t *testing.T) {
	m := Meta{Ref: "GLD000000012345", Seq: 42}
	assert.Equal(t, "GLD000000012345_GLD_Addition_Regular_42",
		m.requestReference(domain.MsgGLDAdditionRegular))
}

func TestMetaValidateRejectsBadRegime(t *testing.T) {
	p := GLDClosure{Meta: Meta{Ref: "9", QualityRegime: "IMBRO/B", BroID: "GLD000000012345"}}
	_, err := Build(p)
	var inv *InvalidPayloadError
	require.ErrorAs(t, err, &inv)
}

func TestMetresSwallowsFloatNoise(t *testing.T) {
	assert.Equal(t, "0.300", metres(0.1+0.2))
	assert.Equal(t, "2.500", metres(2.5))
	assert.Equal(t, "-1.250", metres(-1.25))
}

func TestCommaDecimal(t *testing.T) {
	assert.Equal(t, "1,500", commaDecimal(1.5))
}

func TestEnvelopeRootFollowsDeliveryType(t *testing.T) {
	base := Meta{Ref: "9", QualityRegime: "IMBRO", BroID: "GLD000000012345"}
	for dt, root := range map[domain.DeliveryType]string{
		domain.DeliverRegister: "registrationRequest",
		domain.DeliverReplace:  "replaceRequest",
		domain.DeliverDelete:   "deleteRequest",
	} {
		m := base
		m.DeliveryType = dt
		doc, err := Build(GLDClosure{Meta: m})
		require.NoError(t, err)
		assert.Contains(t, string(doc.Bytes), "<"+root)
	}
}

func TestConstructionRendersScreenPositions(t *testing.T) {
	doc, err := Build(GMWConstruction{
		Meta: Meta{Ref: "11", DeliveryAccountableParty: "27376655", QualityRegime: "IMBRO"},
		Well: domain.Well{
			ID:               11,
			InternalID:       "PB-001",
			ConstructionDate: "2024-04-01",
			CoordinateX:      140412.5,
			CoordinateY:      455032.1,
			WellOffset:       0.3,
		},
		Tubes: []domain.Tube{{
			Number:               1,
			TubeStatus:           "gebruiksklaar",
			TubeTopPosition:      1.2,
			PlainTubePartLength:  10,
			ScreenLength:         1,
			ScreenTopPosition:    -8.8,
			ScreenBottomPosition: -9.8,
		}},
	})
	require.NoError(t, err)
	xml := string(doc.Bytes)
	assert.Contains(t, xml, "<screenTopPosition>-8.800</screenTopPosition>")
	assert.Contains(t, xml, "<screenBottomPosition>-9.800</screenBottomPosition>")
}

func TestPrepareSeriesConvertsUnits(t *testing.T) {
	cm, mm := 250.0, 250.0
	points, err := prepareSeries([]domain.MeasurementTvp{
		{ID: 1, Time: "2024-05-01T10:00:00Z", Value: &cm, Unit: "cm"},
		{ID: 2, Time: "2024-05-01T11:00:00Z", Value: &mm, Unit: "mm"},
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2.500", points[0].Value)
	assert.Equal(t, "0.250", points[1].Value)
}

func TestPrepareSeriesOrdersAndDeduplicates(t *testing.T) {
	v1, v2, v3 := 100.0, 110.0, 120.0
	points, err := prepareSeries([]domain.MeasurementTvp{
		{ID: 3, Time: "2024-05-01T12:00:00Z", Value: &v3, Unit: "cm"},
		{ID: 1, Time: "2024-05-01T10:00:00Z", Value: &v1, Unit: "cm"},
		{ID: 2, Time: "2024-05-01T10:00:00Z", Value: &v2, Unit: "cm"},
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	// Ascending by time, duplicate timestamp keeps the lowest id.
	assert.Equal(t, "1.000", points[0].Value)
	assert.Equal(t, "1.200", points[1].Value)
}

func TestPrepareSeriesComparesInstantsAcrossOffsets(t *testing.T) {
	v1, v2, v3 := 100.0, 110.0, 120.0
	points, err := prepareSeries([]domain.MeasurementTvp{
		{ID: 1, Time: "2024-05-01T10:00:00Z", Value: &v1, Unit: "cm"},
		// Same instant as ID 1, recorded in a different offset.
		{ID: 2, Time: "2024-05-01T11:00:00+01:00", Value: &v2, Unit: "cm"},
		{ID: 3, Time: "2024-05-01T09:30:00Z", Value: &v3, Unit: "cm"},
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "1.200", points[0].Value)
	assert.Equal(t, "1.000", points[1].Value)
}

func TestPrepareSeriesDropsRejectedAndEmptyPoints(t *testing.T) {
	v := 100.0
	censor := "groterDan"
	points, err := prepareSeries([]domain.MeasurementTvp{
		{ID: 1, Time: "2024-05-01T10:00:00Z", Value: &v, Unit: "cm", StatusQualityControl: "afgekeurd"},
		{ID: 2, Time: "2024-05-01T11:00:00Z", Unit: "cm"},
		{ID: 3, Time: "2024-05-01T12:00:00Z", Unit: "cm", CensorReason: &censor},
		{ID: 4, Time: "2024-05-01T13:00:00Z", Value: &v, Unit: "cm", StatusQualityControl: "goedgekeurd"},
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "groterDan", points[0].CensorReason)
	assert.Empty(t, points[0].Value)
	assert.Equal(t, "1.000", points[1].Value)
}

func TestPrepareSeriesRejectsUnknownUnit(t *testing.T) {
	v := 1.0
	_, err := prepareSeries([]domain.MeasurementTvp{
		{ID: 1, Time: "2024-05-01T10:00:00Z", Value: &v, Unit: "ft"},
	})
	var inv *InvalidPayloadError
	require.ErrorAs(t, err, &inv)
}

func TestGLDAdditionEmptySeriesIsInvalid(t *testing.T) {
	p := GLDAddition{
		Meta: Meta{Ref: "GLD000000012345", QualityRegime: "IMBRO", BroID: "GLD000000012345"},
		Observation: domain.Observation{
			ID:              7,
			ObservationType: "reguliereMeting",
			StartTime:       "2024-05-01T10:00:00Z",
		},
	}
	_, err := Build(p)
	var inv *InvalidPayloadError
	require.ErrorAs(t, err, &inv)
}

func TestGLDAdditionMessageTypeByObservationType(t *testing.T) {
	regular := GLDAddition{Observation: domain.Observation{ObservationType: "reguliereMeting"}}
	control := GLDAddition{Observation: domain.Observation{ObservationType: "controlemeting"}}
	assert.Equal(t, domain.MsgGLDAdditionRegular, regular.MessageType())
	assert.Equal(t, domain.MsgGLDAdditionControl, control.MessageType())
}

func TestApparentResistanceGeometryFactor(t *testing.T) {
	m := domain.FrdMeasurement{ID: 1, Voltage: 0.5, Current: 0.1}
	c := domain.MeasurementConfiguration{ID: 1, PositionOne: 10, PositionTwo: 12}
	rho, err := apparentResistance(m, c)
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Pi*2*5, rho, 1e-9)

	m.Current = 0
	_, err = apparentResistance(m, c)
	require.Error(t, err)

	m.Current = 0.1
	c.PositionTwo = 10
	_, err = apparentResistance(m, c)
	require.Error(t, err)
}

func TestGMNStartRegistrationNeedsPoints(t *testing.T) {
	p := GMNStartRegistration{
		Meta:    Meta{Ref: "3", QualityRegime: "IMBRO"},
		Network: domain.Network{ID: 3, Name: "meetnet-zuid"},
	}
	_, err := Build(p)
	var inv *InvalidPayloadError
	require.ErrorAs(t, err, &inv)
}

func TestBuildEndsWithNewline(t *testing.T) {
	doc, err := Build(GLDClosure{Meta: Meta{Ref: "9", QualityRegime: "IMBRO", BroID: "GLD000000012345"}})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(doc.Bytes), "\n"))
	assert.True(t, strings.HasPrefix(string(doc.Bytes), "<?xml"))
}
