package heuristics

// Vocabulary used by the ad, offer and review detectors. All entries are
// lowercase and matched as substrings of lowercased text.

var BuyerTriggers = []string{
	"ищу", "ищем", "ищет", "нужен", "нужна", "нужно", "нужны",
	"подскажите", "посоветуйте", "порекомендуйте", "требуется",
	"кто может", "кто знает", "кто-нибудь", "есть ли", "где можно", "где найти",
	"хочу снять", "хочу арендовать", "хотим снять", "сниму", "куплю",
	"помогите найти", "в поиске", "интересует",
}

var SellerTerms = []string{
	"продается", "продаётся", "продам", "продаю",
	"сдается", "сдаётся", "сдам", "сдаю", "сдаем", "сдаём",
	"от собственника", "собственник", "агентство недвижимости",
	"риэлтор", "риелтор", "без комиссии", "в наличии", "цена:", "стоимость:",
}

var OfferTerms = []string{
	"предлагаю", "предлагаем", "оказываю", "оказываем", "наши услуги",
	"обращайтесь", "пишите в лс", "пишите в личку", "записывайтесь",
	"запись открыта", "принимаю заказы", "принимаем заказы", "выполняем",
	"организуем", "подробности в лс", "звоните",
}

var RealtyHintTerms = []string{
	"апартаменты", "вилла", "резиденци", "жк ", "комплекс с",
	"до моря", "от моря", "спальн", "санузел", "с мебелью", "меблирован",
	"этаж", "планировк", "новостройк",
}

var PromoCTATerms = []string{
	"бронируйте", "успейте", "акция", "скидка", "спешите",
	"только сегодня", "записывайтесь", "подписывайтесь", "звоните", "пишите",
}

var QuestionIndicators = []string{
	"?", "подскажите", "посоветуйте", "кто", "где", "как", "сколько", "какая", "какую", "нужна", "нужен", "ищу",
}

var SalesyTerms = []string{
	"оформим", "оформляем", "оформление", "выгодн", "скидк", "акция",
	"лучшие цены", "лучшая цена", "без отказов", "звоните", "пишите", "официально",
}

var ReviewTerms = []string{
	"отлично", "хорошо", "плохо", "ужасно", "не рекомендую", "рекомендую", "советую",
	"не советую", "опыт", "работал", "работала", "пользовался", "пользовалась",
}

// PotentialTriggers are weaker request markers accepted for long messages.
var PotentialTriggers = []string{"ищем", "надо", "можно", "интересует", "занимается", "занимайтесь"}

// RecommendationRequests keep a review-like message alive when it asks for advice.
var RecommendationRequests = []string{"посоветуй", "посоветуйте", "кто знает", "кто может", "кто занимается"}

var RentalSignals = []string{
	"сниму", "снять", "ищу квартиру", "ищем квартиру", "ищет квартиру",
	"короткий срок", "на месяц", "на 1 месяц", "на один месяц",
}

var MassageTerms = []string{"массаж", "массажист", "массажистка"}

var ExcursionMarkers = []string{"экскурс", "билет", "land of legends", "легенд"}

var TransferMarkers = []string{"трансфер", "transfer"}

// longQuestionTriggers keep a long sellerish text from being treated as a listing.
var longQuestionTriggers = []string{"?", "подскажите", "сколько", "где", "кто может", "нужен", "ищу", "нужна", "требуется"}

var promoEmoji = []string{"🌟", "🌴", "✨"}
