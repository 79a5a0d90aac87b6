package gemini

import (
	"fmt"
	"strings"
)

// NutritionSystemInstruction defines the base persona for every generation
// call. It keeps answers grounded in nutrition and in the user's stated
// health context.
const NutritionSystemInstruction = `You are NouMeal, a friendly nutrition assistant. You help users understand the food they eat: calories, macronutrients, suitability for their health condition, and practical ways to eat better.

Guidelines:
- Always tailor advice to the user's health condition and calorie target when they are provided.
- Be concrete: give numbers (estimated calories, protein, carbs, fat) rather than vague statements.
- Keep answers compact and scannable. Use short numbered or bulleted lists.
- If a question is outside nutrition and food, answer briefly and steer back to how you can help with meals and health.
- Never invent foods that are not in the provided detection list when one is given.`

// ClassifierSystemInstruction drives intent classification. The model must
// pick exactly one capability and fill parameters from the message and
// recent conversation.
const ClassifierSystemInstruction = `You are the intent router for a nutrition assistant. Given the user's message, the recent conversation, and the number of attached images, decide which single capability should handle the request.

Available capabilities:
- analyze_food: analyze one food image in depth (needs 1 image)
- compare_foods: compare several food images (needs 2+ images)
- track_calories: tally the day's meals from images against a calorie target (needs 1+ images)
- quick_scan: just identify what food is in an image (needs 1 image)
- meal_suggestion: suggest dishes for one meal (no image needed)
- weekly_menu: plan a 7-day menu (no image needed)
- detailed_recipes: produce multi-day cooking recipes (no image needed)
- chat: general conversation or anything that fits no other capability

Rules:
- Choose exactly one capability. When unsure, choose chat.
- Fill suggested_params only with values stated or clearly implied by the user.
- If the chosen capability cannot run because something essential is absent (for example it needs an image and none is attached), list what is missing in missing_info instead of guessing.
- Confidence is your own certainty in the chosen intent, between 0 and 1.`

// AnalyzeFoodPrompt builds the vision prompt for a single-dish analysis.
func AnalyzeFoodPrompt(foodList, healthCondition, dietaryGoals string) string {
	return fmt.Sprintf(`Analyze this dish for someone who is %s, with the goal: %s.
Detected foods: %s

Answer concisely:
1. Confirm what the dish is
2. Calories and key nutrition
3. Suitability rating (1-5 stars)
4. Pros and cons
5. Suggestions to improve it`, healthCondition, dietaryGoals, foodList)
}

// CompareFoodsPrompt builds the vision prompt for comparing several dishes.
func CompareFoodsPrompt(dishSummaries []string, healthCondition string) string {
	return fmt.Sprintf(`Compare these %d dishes for someone who is %s.
The dishes:
%s

Return:
1. A comparison table of calories, protein, and carbs
2. A ranking from best to worst
3. A recommendation of which dish to choose`, len(dishSummaries), healthCondition, strings.Join(dishSummaries, "\n"))
}

// TrackCaloriesPrompt builds the vision prompt for a daily calorie tally.
func TrackCaloriesPrompt(mealSummaries []string, targetCalories int, healthCondition string) string {
	return fmt.Sprintf(`Track today's calories for someone who is %s.
Target: %d kcal
Meals eaten:
%s

Return:
1. Total calories consumed
2. Comparison against the target (how far over or under)
3. Nutrient distribution
4. Suggested adjustments for the rest of the day`, healthCondition, targetCalories, strings.Join(mealSummaries, "\n"))
}

// MealSuggestionPrompt builds the text prompt for a single-meal suggestion.
func MealSuggestionPrompt(mealTime, healthCondition, dietaryPreferences, budgetRange, cookingTime string) string {
	return fmt.Sprintf(`Suggest dishes for %s:
- Health: %s
- Preferences: %s
- Budget: %s
- Cooking time: %s

Return 2-3 suitable dishes with the reason for each, simple preparation steps, and estimated calories.`,
		mealTime, healthCondition, dietaryPreferences, budgetRange, cookingTime)
}

// WeeklyMenuPrompt builds the text prompt for a 7-day menu plan.
func WeeklyMenuPrompt(healthCondition, dietaryPreferences, budgetRange, cookingTime string) string {
	return fmt.Sprintf(`Plan a 7-day menu:
- Health: %s
- Preferences: %s
- Budget: %s per day
- Cooking time: %s

Format: Monday through Sunday with 3 meals per day plus calories for each meal.`,
		healthCondition, dietaryPreferences, budgetRange, cookingTime)
}

// DetailedRecipesPrompt builds the text prompt for multi-day detailed recipes.
func DetailedRecipesPrompt(days int, healthCondition, dietaryPreferences, budgetRange string) string {
	return fmt.Sprintf(`Create detailed recipes for %d days:
- Health: %s
- Preferences: %s
- Budget: %s

For each dish: ingredients, preparation steps, calories, and estimated cost.`,
		days, healthCondition, dietaryPreferences, budgetRange)
}
