package heuristics

import "testing"

func TestContainsContact(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"пишите @ivan_petrov", true},
		{"канал t.me/antalya_rent", true},
		{"звоните +90 555 123 45 67", true},
		{"есть WhatsApp", true},
		{"просто вопрос про визу", false},
	}
	for _, tt := range tests {
		if got := ContainsContact(tt.text); got != tt.want {
			t.Errorf("ContainsContact(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestContainsNegative(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Осторожно, мошенники!", true},
		{"Требуют предоплату, это обман", true},
		{"Это не спам, ищу няню", false},
		{"никому не советую этот сервис", true},
		{"Остерегайтесь этого водителя", true},
		{"Ищу трансфер из аэропорта", false},
	}
	for _, tt := range tests {
		if got := ContainsNegative(tt.text); got != tt.want {
			t.Errorf("ContainsNegative(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsAdvertisement(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"listing with price and contact", "Сдается квартира 2+1, 650€ в месяц, пишите @agent", true},
		{"buyer with budget", "Ищу квартиру в Анталии на месяц, бюджет до 800€", false},
		{"plain question", "Подскажите, кто делает маникюр в Кемере?", false},
		{"service offer", "Предлагаем экскурсии по Каппадокии", true},
		{"review", "Отличный мастер, рекомендую", true},
		{"contact alone", "Мой ник @ivan_petrov", false},
		{"many prices", "Вилла 1200€, апартаменты 700€", true},
		{"seller with realty hint", "Продаю апартаменты у моря", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAdvertisement(tt.text); got != tt.want {
				t.Errorf("IsAdvertisement(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestHasBuyerRequest(t *testing.T) {
	if !HasBuyerRequest("Нужен водитель") {
		t.Error("trigger not detected")
	}
	if !HasBuyerRequest("Сколько стоит? А где?") {
		t.Error("two question marks not treated as a request")
	}
	if HasBuyerRequest("Хорошая погода сегодня") {
		t.Error("statement treated as a request")
	}
}

func TestPriceHits(t *testing.T) {
	if n := PriceHits("1200€ или 1 500 eur, а также 300 usd"); n != 3 {
		t.Errorf("PriceHits = %d, want 3", n)
	}
	if n := PriceHits("комната 12 метров"); n != 0 {
		t.Errorf("PriceHits = %d, want 0", n)
	}
}

func TestAnalyzeLayoutAndArea(t *testing.T) {
	s := Analyze("Квартира 3+1, 120 м2")
	if !s.Layout {
		t.Error("layout 3+1 not detected")
	}
	if !s.Area {
		t.Error("area м2 not detected")
	}
	if !s.Sellerish() {
		t.Error("listing not sellerish")
	}
}

func TestStripHashtags(t *testing.T) {
	got := StripHashtags("Ищу трансфер #кемер #трансфер")
	if got != "Ищу трансфер" {
		t.Errorf("StripHashtags = %q", got)
	}
	if n := CountHashtags("#a #б #c_d текст"); n != 3 {
		t.Errorf("CountHashtags = %d, want 3", n)
	}
}

func TestStemNormalizesInflections(t *testing.T) {
	tests := []struct{ a, b string }{
		{" Квартиру", "квартира"},
		{"трансфера", "трансфер"},
		{"АЭРОПОРТА", "аэропорт"},
	}
	for _, tt := range tests {
		if sa, sb := Stem(tt.a), Stem(tt.b); sa != sb {
			t.Errorf("Stem(%q) = %q, Stem(%q) = %q, want equal", tt.a, sa, tt.b, sb)
		}
	}
}

func TestStemSetMatchesInflections(t *testing.T) {
	text := StemSet("Ищу квартиру в Анталии")
	kw := KeywordStems([]string{"квартира"})
	if !Intersects(text, kw) {
		t.Errorf("stems %v do not intersect %v", text, kw)
	}
	if Intersects(text, KeywordStems([]string{"яхта"})) {
		t.Error("unrelated keyword matched")
	}
}

func TestContainsWord(t *testing.T) {
	if !ContainsWord("Чат Кемер | объявления", "кемер") {
		t.Error("whole word not found")
	}
	if ContainsWord("Кемерово", "кемер") {
		t.Error("prefix of a longer word matched")
	}
	if !ContainsWord("kemer_chat", "kemer") {
		t.Error("underscore should separate words")
	}
}
