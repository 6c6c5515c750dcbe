package constants

const USER_AGENT = "mealimages/1.0 (+https://github.com/pantrykeep/mealimages)"
