package classify

import "testing"

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name     string
		in       Result
		text     string
		hint     string
		wantRel  bool
		wantCat  string
		wantConf float64
		wantExpl string
	}{
		{
			name:     "rental request forced relevant",
			in:       Result{Relevant: false, Confidence: 0.4},
			text:     "сниму квартиру в алании на месяц",
			wantRel:  true,
			wantCat:  "недвижимость",
			wantConf: 0.4,
			wantExpl: "Запрос аренды недвижимости",
		},
		{
			name:     "rental keeps model category",
			in:       Result{Relevant: false, Category: "аренда авто", Confidence: 0.6},
			text:     "ищем квартиру и машину",
			wantRel:  true,
			wantCat:  "аренда авто",
			wantConf: 0.6,
			wantExpl: "Запрос аренды недвижимости",
		},
		{
			name:     "massage becomes beauty",
			in:       Result{Relevant: true, Category: "экскурсии", Confidence: 0.9, Explanation: "x"},
			text:     "нужен массажист на дом",
			wantRel:  true,
			wantCat:  "бьюти",
			wantConf: 0.9,
			wantExpl: "x",
		},
		{
			name:     "insurance ad",
			in:       Result{Relevant: true, Category: "страховки", Confidence: 0.9},
			text:     "страховка для внж, оформим быстро и выгодно",
			wantRel:  false,
			wantCat:  "страховки",
			wantConf: 0.9,
			wantExpl: "Реклама страховки",
		},
		{
			name:     "insurance question survives",
			in:       Result{Relevant: true, Category: "страховки", Confidence: 0.9, Explanation: "ok"},
			text:     "где оформить страховка выгодно?",
			wantRel:  true,
			wantCat:  "страховки",
			wantConf: 0.9,
			wantExpl: "ok",
		},
		{
			name:     "realty listing",
			in:       Result{Relevant: true, Category: "недвижимость", Confidence: 0.9},
			text:     "продается 2+1 в махмутларе, 120 м2, 95000 евро",
			wantRel:  false,
			wantCat:  "недвижимость",
			wantConf: 0.9,
			wantExpl: "Риэлторский листинг/продажа",
		},
		{
			name:     "offer without buyer",
			in:       Result{Relevant: true, Category: "трансфер", Confidence: 0.9},
			text:     "предлагаем трансфер из аэропорта анталии",
			wantRel:  false,
			wantCat:  "трансфер",
			wantConf: 0.9,
			wantExpl: "Предложение услуг, а не запрос",
		},
		{
			name:     "review without request",
			in:       Result{Relevant: true, Category: "бьюти", Confidence: 0.9},
			text:     "была у мастера, все отлично",
			wantRel:  false,
			wantCat:  "бьюти",
			wantConf: 0.9,
			wantExpl: "Отзыв или комментарий, а не запрос",
		},
		{
			name:     "review with recommendation request",
			in:       Result{Relevant: true, Category: "бьюти", Confidence: 0.9, Explanation: "ok"},
			text:     "посоветуйте мастера маникюра, прошлый был отлично",
			wantRel:  true,
			wantCat:  "бьюти",
			wantConf: 0.9,
			wantExpl: "ok",
		},
		{
			name:     "hint fills empty category and boosts",
			in:       Result{Relevant: true, Confidence: 0.5, Explanation: "ok"},
			text:     "нужен трансфер завтра",
			hint:     "трансфер",
			wantRel:  true,
			wantCat:  "трансфер",
			wantConf: 0.6,
			wantExpl: "ok",
		},
		{
			name:     "agreeing hint boost is capped",
			in:       Result{Relevant: true, Category: "трансфер", Confidence: 0.78, Explanation: "ok"},
			text:     "нужен трансфер завтра",
			hint:     "трансфер",
			wantRel:  true,
			wantCat:  "трансфер",
			wantConf: 0.85,
			wantExpl: "ok",
		},
		{
			name:     "confident model keeps its category",
			in:       Result{Relevant: true, Category: "экскурсии", Confidence: 0.7, Explanation: "ok"},
			text:     "нужен гид на завтра",
			hint:     "трансфер",
			wantRel:  true,
			wantCat:  "экскурсии",
			wantConf: 0.7,
			wantExpl: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyOverrides(tt.in, tt.text, tt.hint)
			if got.Relevant != tt.wantRel {
				t.Errorf("Relevant = %v, want %v", got.Relevant, tt.wantRel)
			}
			if got.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCat)
			}
			if diff := got.Confidence - tt.wantConf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Explanation != tt.wantExpl {
				t.Errorf("Explanation = %q, want %q", got.Explanation, tt.wantExpl)
			}
		})
	}
}
